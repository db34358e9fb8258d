package user

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pawdirectory/media/internal/middleware"
	"github.com/pawdirectory/media/internal/response"
)

// Handler serves the /users endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// meData is the caller's own record as the upload client sees it.
type meData struct {
	ID              string `json:"id" example:"6650b8f1c2a4e3d9f0a1b2c4"`
	Name            string `json:"name" example:"Rex's human"`
	Email           string `json:"email" example:"rex@example.com"`
	ProfileImage    string `json:"profileImage,omitempty"`
	HasProfileImage bool   `json:"hasProfileImage"`
}

func toMe(u *User) meData {
	return meData{
		ID:              u.ID.Hex(),
		Name:            u.Name,
		Email:           u.Email,
		ProfileImage:    u.ProfileImage,
		HasProfileImage: u.ProfileImage != "",
	}
}

// GetMe godoc
//
//	@Summary		Get current user
//	@Description	Returns the caller's record with the profile image URL set by the last committed profile upload.
//	@Tags			users
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope{data=meData}
//	@Failure		401	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/users/me [get]
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	u, err := h.svc.GetByID(r.Context(), userID)
	switch {
	case h.svc.IsNotFound(err):
		response.NotFound(w, "user not found")
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("get user")
		response.InternalError(w)
	default:
		response.OK(w, toMe(u))
	}
}
