package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"golang.org/x/exp/slog"

	"roulette-backend/internal/lib/logger/sl"
	"roulette-backend/internal/services"
)

// respondError maps the service error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, log *slog.Logger, err error) {
	var (
		ve  *services.ValidationError
		nf  *services.NotFoundError
		sce *services.StateConflictError
		se  *services.SettlementError
	)

	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": ve.Error()})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found", "details": nf.Error()})
	case errors.As(err, &sce):
		status := http.StatusBadRequest
		if sce.Conflict {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": "Invalid game state", "details": sce.Error()})
	case errors.As(err, &se):
		log.Error("settlement error", sl.GameID(se.GameID), sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Settlement failed", "details": se.Error()})
	default:
		log.Error("request failed", slog.String("path", c.FullPath()), sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func respondBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": "malformed JSON body"})
		return
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is required", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is invalid", fe.Field()))
		}
	}

	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": strings.Join(msgs, ", ")})
}
