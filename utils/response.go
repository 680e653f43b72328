package utils

import "github.com/gin-gonic/gin"

// JSONResponse defines the uniform structure for API responses. Kind carries
// the stable machine discriminant for validation rejections; clients must
// branch on it, never on message text.
type JSONResponse struct {
	Code    int         `json:"code"`
	Kind    string      `json:"kind,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Respond writes a JSON response with the given status code.
func Respond(ctx *gin.Context, status int, code int, message string, data interface{}) {
	ctx.JSON(status, JSONResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data interface{}) {
	Respond(ctx, 200, 0, "success", data)
}

// Error returns a standard error response.
func Error(ctx *gin.Context, status int, code int, message string) {
	Respond(ctx, status, code, message, nil)
}

// ErrorKind returns an error response carrying a taxonomy discriminant.
func ErrorKind(ctx *gin.Context, status int, code int, kind string, message string) {
	ctx.JSON(status, JSONResponse{
		Code:    code,
		Kind:    kind,
		Message: message,
	})
}
