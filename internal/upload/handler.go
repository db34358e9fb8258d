package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/pawdirectory/media/internal/metrics"
	"github.com/pawdirectory/media/internal/middleware"
	"github.com/pawdirectory/media/internal/response"
	"github.com/pawdirectory/media/internal/storage"
)

// JobIDHeader carries the upload job id on successful uploads.
const JobIDHeader = "X-Upload-Job-ID"

// Handler holds HTTP handlers for the /upload endpoints.
type Handler struct {
	svc      *Service
	bucket   string
	maxBytes int64
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewHandler creates a new upload Handler. bucket is the only bucket the
// file view route serves.
func NewHandler(svc *Service, bucket string, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Handler{svc: svc, bucket: bucket, maxBytes: maxBytes, metrics: svc.metrics, now: time.Now}
}

type healthData struct {
	OK  bool  `json:"ok" example:"true"`
	Now int64 `json:"now" example:"1760745600000"`
}

type warmupData struct {
	OK    bool   `json:"ok" example:"true"`
	Error string `json:"error,omitempty"`
}

type uploadData struct {
	Success  bool   `json:"success" example:"true"`
	FileID   string `json:"fileId" example:"d3nq5k2f0c7l2m9g8h1a"`
	ImageURL string `json:"imageUrl" example:"https://media.example.com/upload/buckets/images/files/d3nq5k2f0c7l2m9g8h1a/view?project=pawdir"`
	Name     string `json:"name" example:"rex.jpg"`
}

type deleteRequest struct {
	ImageURL string `json:"imageUrl" example:"https://media.example.com/upload/buckets/images/files/d3nq5k2f0c7l2m9g8h1a/view?project=pawdir"`
	Type     string `json:"type" example:"pet"`
	PetID    string `json:"petId,omitempty" example:"6650b8f1c2a4e3d9f0a1b2c3"`
}

type deleteData struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message" example:"Image deleted successfully"`
}

// Health godoc
//
//	@Summary	Upload service health
//	@Tags		upload
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	healthData
//	@Failure	401	{object}	response.Envelope
//	@Router		/upload/health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, healthData{OK: true, Now: h.now().UnixMilli()})
}

// Warmup godoc
//
//	@Summary		Warm up storage
//	@Description	Opens a connection to object storage so the next upload does not pay the handshake.
//	@Tags			upload
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	warmupData
//	@Failure		401	{object}	response.Envelope
//	@Failure		500	{object}	warmupData
//	@Router			/upload/warmup [get]
func (h *Handler) Warmup(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Warmup(r.Context()); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("storage warmup failed")
		response.JSON(w, http.StatusInternalServerError, warmupData{OK: false, Error: err.Error()})
		return
	}
	response.JSON(w, http.StatusOK, warmupData{OK: true})
}

// UploadImage godoc
//
//	@Summary		Upload an image
//	@Description	Stores a jpeg, png or webp image (max 10 MiB) and attaches it to a pet, the caller's business, or the caller's profile. The record update happens after the response.
//	@Tags			upload
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			file	formData	file	true	"Image file"
//	@Param			type	formData	string	true	"Owner type"	Enums(pet, business, profile)
//	@Param			petId	formData	string	false	"Pet id, required when type is pet"
//	@Success		200		{object}	uploadData
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		413		{object}	response.Envelope
//	@Failure		502		{object}	response.Envelope
//	@Router			/upload/image [post]
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	logger := log.Ctx(r.Context())
	logger.Debug().Str("state", string(StateValidating)).Msg("upload received")

	img, err := ReadImage(w, r, h.maxBytes)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if err != nil {
		h.rejectIntake(w, r, "", err)
		return
	}

	owner, err := ParseOwner(r.FormValue("type"), r.FormValue("petId"), userID)
	if err != nil {
		h.rejectIntake(w, r, r.FormValue("type"), err)
		return
	}

	res, err := h.svc.Upload(r.Context(), Request{UserID: userID, Owner: owner, Image: img})
	if err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) {
			logger.Error().Err(err).Msg("storage upload failed")
			h.metrics.Uploads.WithLabelValues(metrics.OutcomeUpstreamError, string(owner.Kind())).Inc()
			response.BadGateway(w, err.Error())
			return
		}
		logger.Error().Err(err).Msg("upload failed")
		h.metrics.Uploads.WithLabelValues(metrics.OutcomeInternalError, string(owner.Kind())).Inc()
		response.InternalError(w)
		return
	}
	h.metrics.Uploads.WithLabelValues(metrics.OutcomeAccepted, string(owner.Kind())).Inc()

	w.Header().Set(JobIDHeader, res.JobID)
	response.JSON(w, http.StatusOK, uploadData{
		Success:  true,
		FileID:   res.FileID,
		ImageURL: res.ImageURL,
		Name:     res.Name,
	})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	// the record patch runs after the client has its answer
	h.svc.Enqueue(context.WithoutCancel(r.Context()), res.JobID)
}

func (h *Handler) rejectIntake(w http.ResponseWriter, r *http.Request, kind string, err error) {
	log.Ctx(r.Context()).Info().Err(err).Msg("upload rejected")
	if errors.Is(err, ErrTooLarge) {
		h.metrics.Uploads.WithLabelValues(metrics.OutcomeTooLarge, kind).Inc()
		response.PayloadTooLarge(w, "file too large, max "+strconv.FormatInt(h.maxBytes>>20, 10)+"MB")
		return
	}
	h.metrics.Uploads.WithLabelValues(metrics.OutcomeRejected, kind).Inc()
	switch {
	case errors.Is(err, ErrMissingFile),
		errors.Is(err, ErrUnsupportedType),
		errors.Is(err, ErrCorruptImage),
		errors.Is(err, ErrInvalidOwnerType),
		errors.Is(err, ErrMissingPetID):
		response.BadRequest(w, err.Error())
	default:
		response.BadRequest(w, ErrMalformedForm.Error())
	}
}

// DeleteImage godoc
//
//	@Summary		Delete an image
//	@Description	Deletes the stored file referenced by imageUrl and removes the reference from its owner. Only the uploader may delete an image, and only from the record it was uploaded to. Deleting an already deleted image succeeds.
//	@Tags			upload
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		deleteRequest	true	"Image to delete"
//	@Success		200		{object}	deleteData
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		403		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/upload/image [delete]
func (h *Handler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req deleteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if req.ImageURL == "" {
		response.BadRequest(w, "imageUrl is required")
		return
	}
	owner, err := ParseOwner(req.Type, req.PetID, userID)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := h.svc.Delete(r.Context(), userID, owner, req.ImageURL); err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidURL):
			response.BadRequest(w, err.Error())
			return
		case errors.Is(err, ErrNotOwner):
			h.metrics.Deletes.WithLabelValues(metrics.OutcomeForbidden, string(owner.Kind())).Inc()
			response.Forbidden(w, err.Error())
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Msg("delete image failed")
		h.metrics.Deletes.WithLabelValues(metrics.OutcomeInternalError, string(owner.Kind())).Inc()
		response.ServerError(w, err.Error())
		return
	}
	h.metrics.Deletes.WithLabelValues(metrics.OutcomeDeleted, string(owner.Kind())).Inc()
	response.JSON(w, http.StatusOK, deleteData{Success: true, Message: "Image deleted successfully"})
}

// ViewFile godoc
//
//	@Summary	View a stored image
//	@Tags		upload
//	@Produce	image/jpeg,image/png,image/webp
//	@Param		bucket	path	string	true	"Bucket"
//	@Param		fileId	path	string	true	"File id"
//	@Success	200
//	@Failure	404	{object}	response.Envelope
//	@Router		/upload/buckets/{bucket}/files/{fileId}/view [get]
func (h *Handler) ViewFile(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "bucket") != h.bucket {
		response.NotFound(w, "bucket not found")
		return
	}

	obj, err := h.svc.store.Open(r.Context(), chi.URLParam(r, "fileId"))
	if errors.Is(err, storage.ErrNotFound) {
		response.NotFound(w, "file not found")
		return
	}
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("open stored file")
		response.InternalError(w)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("stream stored file")
	}
}

// Mount registers the /upload routes on r. The file view route is public
// because stored images are public-read; everything else requires auth.
func (h *Handler) Mount(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Route("/upload", func(r chi.Router) {
		r.Get("/buckets/{bucket}/files/{fileId}/view", h.ViewFile)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/health", h.Health)
			r.Get("/warmup", h.Warmup)
			r.Post("/image", h.UploadImage)
			r.Delete("/image", h.DeleteImage)
		})
	})
}
