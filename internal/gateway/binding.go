package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"murder-mystery/internal/game"
)

type bindMessages map[string]map[string]string

func bindJSON(c *gin.Context, req any, messages bindMessages, fallback string) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": resolveBindError(err, messages, fallback)})
		return false
	}
	return true
}

func bindURI(c *gin.Context, req any) bool {
	if err := c.ShouldBindUri(req); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return false
	}
	return true
}

func resolveBindError(err error, messages bindMessages, fallback string) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, verr := range verrs {
			if fieldMsgs, ok := messages[verr.Field()]; ok {
				if msg, ok := fieldMsgs[verr.Tag()]; ok {
					return msg
				}
			}
		}
	}
	if fallback != "" {
		return fallback
	}
	return "invalid request"
}

// statusFor maps a game error to the HTTP status a client should see.
func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrRoomNotFound),
		errors.Is(err, game.ErrPlayerNotFound),
		errors.Is(err, game.ErrRoleNotFound),
		errors.Is(err, game.ErrScriptNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, game.ErrRoleAlreadyTaken),
		errors.Is(err, game.ErrRoleAlreadyChosen),
		errors.Is(err, game.ErrDuplicateVote),
		errors.Is(err, game.ErrWrongPhase),
		errors.Is(err, game.ErrScriptNotReady),
		errors.Is(err, game.ErrRolesPending):
		return http.StatusConflict
	case errors.Is(err, game.ErrInvalidVoteTarget):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	c.JSON(status, gin.H{"error": message})
}
