package sauce

// OpenSauceConnectData is validated before a tunnel is opened.
type OpenSauceConnectData struct {
	Username     string `json:"username" validate:"required"`
	AccessKey    string `json:"access_key" validate:"required"`
	RestEndpoint string `json:"rest_endpoint" validate:"required,url"`
	Port         int    `json:"port" validate:"required,min=1,max=65535"`
}

// CloseSauceConnectData is validated before a plan's tunnel is closed.
type CloseSauceConnectData struct {
	Username string `json:"username" validate:"required"`
}
