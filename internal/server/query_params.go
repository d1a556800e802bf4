package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func pathID(c *gin.Context, name string) (uint64, error) {
	raw := strings.TrimSpace(c.Param(name))
	if raw == "" {
		return 0, ErrInvalidID
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrInvalidRequest
	}
	return value, nil
}

type idResponse struct {
	ID uint64 `json:"id"`
}
