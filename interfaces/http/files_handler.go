package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/usecase"
)

type IFilesHandler interface {
	Presign(ctx *gin.Context)
}

type FilesHandler struct {
	files usecase.IFilesUsecase
}

func NewFilesHandler(files usecase.IFilesUsecase) IFilesHandler {
	return &FilesHandler{files: files}
}

// Presign accepts the request as query parameters on GET or as a JSON body on POST.
func (h *FilesHandler) Presign(ctx *gin.Context) {
	uid, ok := userID(ctx)
	if !ok {
		return
	}
	var req dto.PresignRequest
	if err := ctx.ShouldBind(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid presign request", "details": err.Error()})
		return
	}
	res, err := h.files.Presign(ctx.Request.Context(), uid, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}
