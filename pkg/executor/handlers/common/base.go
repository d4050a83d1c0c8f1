package common

import (
	"strconv"
	"strings"

	"gopkg.in/go-playground/validator.v9"
)

// BaseHandler provides common functionality for all handlers
type BaseHandler struct {
	name      string
	commands  []string
	validator *validator.Validate
	Executor  CommandExecutor
}

func NewBaseHandler(name HandlerType, commands []CommandType, executor CommandExecutor) *BaseHandler {
	return &BaseHandler{
		name:      name.String(),
		commands:  CommandsToStrings(commands),
		validator: validator.New(),
		Executor:  executor,
	}
}

func (h *BaseHandler) Name() string {
	return h.name
}

func (h *BaseHandler) Commands() []string {
	return h.commands
}

// ValidateStruct validates a struct using struct tags
func (h *BaseHandler) ValidateStruct(s interface{}) error {
	return h.validator.Struct(s)
}

// Helpers for loosely typed argument maps, such as step arguments decoded
// from JSON or built from CLI flags.

func GetStringArg(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultValue
}

// GetBoolArg accepts real booleans and the strings "true"/"false".
func GetBoolArg(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key]; ok {
		switch v := val.(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b
			}
		}
	}
	return defaultValue
}
