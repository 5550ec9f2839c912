package handlers

import "github.com/pocketbase/pocketbase/core"

// All endpoints answer with the same envelope so clients can branch on a
// single success flag.
func respondOK(e *core.RequestEvent, status int, data any) error {
	return e.JSON(status, map[string]any{"success": true, "data": data})
}

func respondError(e *core.RequestEvent, status int, code, message string) error {
	return e.JSON(status, map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
	})
}
