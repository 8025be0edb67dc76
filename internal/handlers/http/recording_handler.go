package http

import (
	stderrors "errors"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"meetroom/internal/infrastructure/recording"
	"meetroom/internal/infrastructure/storage"
	"meetroom/pkg/errors"

	"github.com/gin-gonic/gin"
)

// RecordingOpener reads back a stored recording.
type RecordingOpener interface {
	Open(key string) (io.ReadCloser, error)
}

// RecordingHandler serves recordings kept by file storage. S3 recordings
// are fetched from the bucket URL directly.
type RecordingHandler struct {
	store RecordingOpener
}

func NewRecordingHandler(store RecordingOpener) *RecordingHandler {
	return &RecordingHandler{store: store}
}

func (h *RecordingHandler) SetupRoutes(router gin.IRoutes) {
	router.GET("/recordings/*key", h.GetRecording)
}

func (h *RecordingHandler) GetRecording(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")

	file, err := h.store.Open(key)
	switch {
	case stderrors.Is(err, storage.ErrInvalidKey):
		c.Error(errors.NewInvalidInputError("invalid recording key"))
		return
	case stderrors.Is(err, fs.ErrNotExist):
		c.Error(errors.NewNotFoundError("recording"))
		return
	case err != nil:
		c.Error(errors.NewInternalError("failed to open recording"))
		return
	}
	defer file.Close()

	c.Header("Content-Type", recording.ContentType)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, file)
}
