package http

// APIResponse is the envelope every endpoint writes. Status mirrors the HTTP status.
type APIResponse struct {
	Status  int         `json:"status" example:"200"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string `json:"field,omitempty" example:"productId"`
	Message string `json:"message,omitempty" example:"productId is required"`
	Param   string `json:"param,omitempty" example:"1"`
}

func FieldError(code, field, message string) []ValidationError {
	return []ValidationError{{Code: code, Field: field, Message: message}}
}

type ListDataResponse struct {
	Rows  interface{} `json:"rows"`
	Total int64       `json:"total"`
}
