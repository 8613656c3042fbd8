package controller

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dilshat/wa-broadcast/channel"
	"github.com/dilshat/wa-broadcast/model"
	"github.com/dilshat/wa-broadcast/service"
	"github.com/dilshat/wa-broadcast/service/dto"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	OwnerHeader     = "X-User-Id"
	SignatureHeader = "X-Hub-Signature-256"
)

// CreateBroadcast godoc
// @Summary Create broadcast
// @Description Creates a broadcast with one pending recipient per active contact
// @Accept json
// @Produce json
// @Param X-User-Id header string true "Owner id"
// @Param broadcast body dto.NewBroadcast true "Broadcast"
// @Success 200 {object} dto.Id
// @Failure 400 "error description"
// @Router /broadcasts [post]
func GetCreateBroadcastFunc(srv service.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, err := ownerId(c)
		if err != nil {
			return err
		}
		broadcast := new(dto.NewBroadcast)
		if err := c.Bind(broadcast); err != nil {
			return err
		}

		id, err := srv.CreateBroadcast(owner, *broadcast)
		if err != nil {
			return errorResponse(c, err)
		}

		return c.JSON(http.StatusOK, id)
	}
}

// ListBroadcasts godoc
// @Summary List broadcasts
// @Description Lists the owner's broadcasts, newest first
// @Produce json
// @Param X-User-Id header string true "Owner id"
// @Success 200 {array} dto.Broadcast
// @Router /broadcasts [get]
func GetListBroadcastsFunc(srv service.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, err := ownerId(c)
		if err != nil {
			return err
		}

		list, err := srv.ListBroadcasts(owner)
		if err != nil {
			return errorResponse(c, err)
		}

		return c.JSON(http.StatusOK, list)
	}
}

// GetBroadcast godoc
// @Summary Get broadcast
// @Description Returns the broadcast with per-recipient statuses
// @Produce json
// @Param X-User-Id header string true "Owner id"
// @Param id path int true "Broadcast id"
// @Success 200 {object} dto.BroadcastDetails
// @Failure 404 "error description"
// @Router /broadcasts/{id} [get]
func GetBroadcastFunc(srv service.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, id, err := ownerAndId(c)
		if err != nil {
			return err
		}

		details, err := srv.GetBroadcast(owner, id)
		if err != nil {
			return errorResponse(c, err)
		}

		return c.JSON(http.StatusOK, details)
	}
}

// DeleteBroadcast godoc
// @Summary Delete broadcast
// @Description Deletes the broadcast and its recipients
// @Param X-User-Id header string true "Owner id"
// @Param id path int true "Broadcast id"
// @Success 204
// @Failure 404 "error description"
// @Failure 409 "error description"
// @Router /broadcasts/{id} [delete]
func GetDeleteBroadcastFunc(srv service.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, id, err := ownerAndId(c)
		if err != nil {
			return err
		}

		if err = srv.DeleteBroadcast(owner, id); err != nil {
			return errorResponse(c, err)
		}

		return c.NoContent(http.StatusNoContent)
	}
}

// SendBroadcast godoc
// @Summary Send broadcast
// @Description Dispatches the broadcast to all pending recipients and waits for the run to finish
// @Produce json
// @Param X-User-Id header string true "Owner id"
// @Param id path int true "Broadcast id"
// @Success 200 {object} dto.Summary
// @Failure 404 "error description"
// @Failure 409 "error description"
// @Router /broadcasts/{id}/send [post]
func GetSendBroadcastFunc(srv service.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, id, err := ownerAndId(c)
		if err != nil {
			return err
		}

		summary, err := srv.SendBroadcast(c.Request().Context(), owner, id)
		if err != nil {
			return errorResponse(c, err)
		}

		return c.JSON(http.StatusOK, summary)
	}
}

// RetryBroadcast godoc
// @Summary Retry broadcast
// @Description Returns failed recipients to pending and the broadcast to draft
// @Produce json
// @Param X-User-Id header string true "Owner id"
// @Param id path int true "Broadcast id"
// @Success 200 {object} dto.Broadcast
// @Failure 400 "error description"
// @Failure 404 "error description"
// @Router /broadcasts/{id}/retry [post]
func GetRetryBroadcastFunc(srv service.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, id, err := ownerAndId(c)
		if err != nil {
			return err
		}

		broadcast, err := srv.RetryBroadcast(owner, id)
		if err != nil {
			return errorResponse(c, err)
		}

		return c.JSON(http.StatusOK, broadcast)
	}
}

// GetProgress godoc
// @Summary Broadcast progress
// @Description Returns the latest progress snapshot
// @Produce json
// @Param X-User-Id header string true "Owner id"
// @Param id path int true "Broadcast id"
// @Success 200 {object} dto.Progress
// @Failure 404 "error description"
// @Router /broadcasts/{id}/progress [get]
func GetProgressFunc(srv service.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, id, err := ownerAndId(c)
		if err != nil {
			return err
		}

		progress, err := srv.GetProgress(owner, id)
		if err != nil {
			return errorResponse(c, err)
		}

		return c.JSON(http.StatusOK, progress)
	}
}

// CreateContact godoc
// @Summary Create contact
// @Accept json
// @Produce json
// @Param X-User-Id header string true "Owner id"
// @Param contact body dto.NewContact true "Contact"
// @Success 200 {object} dto.Id
// @Failure 400 "error description"
// @Router /contacts [post]
func GetCreateContactFunc(srv service.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, err := ownerId(c)
		if err != nil {
			return err
		}
		contact := new(dto.NewContact)
		if err := c.Bind(contact); err != nil {
			return err
		}

		id, err := srv.CreateContact(owner, *contact)
		if err != nil {
			return errorResponse(c, err)
		}

		return c.JSON(http.StatusOK, id)
	}
}

// ListContacts godoc
// @Summary List contacts
// @Produce json
// @Param X-User-Id header string true "Owner id"
// @Success 200 {array} dto.Contact
// @Router /contacts [get]
func GetListContactsFunc(srv service.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, err := ownerId(c)
		if err != nil {
			return err
		}

		list, err := srv.ListContacts(owner)
		if err != nil {
			return errorResponse(c, err)
		}

		return c.JSON(http.StatusOK, list)
	}
}

// SetContactStatus godoc
// @Summary Activate or deactivate contact
// @Description Inactive contacts are left out of new broadcasts
// @Accept json
// @Produce json
// @Param X-User-Id header string true "Owner id"
// @Param id path int true "Contact id"
// @Param status body dto.ContactStatus true "active or inactive"
// @Success 200 {object} dto.Contact
// @Failure 400 "error description"
// @Failure 404 "error description"
// @Router /contacts/{id}/status [put]
func GetSetContactStatusFunc(srv service.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, id, err := ownerAndId(c)
		if err != nil {
			return err
		}
		status := new(dto.ContactStatus)
		if err := c.Bind(status); err != nil {
			return err
		}

		contact, err := srv.SetContactStatus(owner, id, *status)
		if err != nil {
			return errorResponse(c, err)
		}

		return c.JSON(http.StatusOK, contact)
	}
}

// WhatsAppVerify godoc
// @Summary WhatsApp webhook verification
// @Description Answers the Cloud API subscription handshake with hub.challenge
// @Produce plain
// @Param hub.mode query string true "subscribe"
// @Param hub.verify_token query string true "Configured verify token"
// @Param hub.challenge query string true "Challenge to echo"
// @Success 200 {string} string
// @Failure 403
// @Router /webhooks/whatsapp [get]
func GetWhatsAppVerifyFunc(verifyToken string) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("hub.verify_token")
		if c.QueryParam("hub.mode") != "subscribe" || verifyToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
			zap.L().Warn("Webhook verification rejected", zap.String("mode", c.QueryParam("hub.mode")))
			return c.NoContent(http.StatusForbidden)
		}

		return c.String(http.StatusOK, c.QueryParam("hub.challenge"))
	}
}

// WhatsAppWebhook godoc
// @Summary WhatsApp status webhook
// @Description Accepts signed Cloud API status callbacks and applies delivered/read receipts
// @Accept json
// @Param X-Hub-Signature-256 header string true "sha256=<hex hmac of the body>"
// @Success 200
// @Failure 401 "error description"
// @Router /webhooks/whatsapp [post]
func GetWhatsAppWebhookFunc(srv service.Service, appSecret string) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		if !validSignature(body, c.Request().Header.Get(SignatureHeader), appSecret) {
			zap.L().Warn("Webhook signature mismatch", zap.String("remote", c.RealIP()))
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid signature")
		}

		callback := new(channel.StatusCallback)
		if err := json.Unmarshal(body, callback); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid callback payload")
		}

		for _, receipt := range callback.Receipts() {
			srv.HandleReceipt(receipt.DeliverId, receipt.Status)
		}

		return c.NoContent(http.StatusOK)
	}
}

// validSignature checks a "sha256=<hex>" header against the HMAC-SHA256 of the raw body.
func validSignature(body []byte, header, secret string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || secret == "" {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func ownerId(c echo.Context) (string, error) {
	owner := strings.TrimSpace(c.Request().Header.Get(OwnerHeader))
	if owner == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Missing "+OwnerHeader+" header")
	}
	return owner, nil
}

func ownerAndId(c echo.Context) (string, uint32, error) {
	owner, err := ownerId(c)
	if err != nil {
		return "", 0, err
	}

	id64, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return "", 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid id "+c.Param("id"))
	}

	return owner, uint32(id64), nil
}

func errorResponse(c echo.Context, err error) error {
	var (
		invalid    *service.InvalidPayloadErr
		notFound   *model.NotFoundErr
		processing *model.AlreadyProcessingErr
		completed  *model.AlreadyCompletedErr
		notDue     *model.NotDueErr
	)

	switch {
	case errors.As(err, &invalid):
		return c.String(http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		return c.String(http.StatusNotFound, err.Error())
	case errors.As(err, &processing), errors.As(err, &completed), errors.As(err, &notDue):
		return c.String(http.StatusConflict, err.Error())
	default:
		zap.L().Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.String(http.StatusInternalServerError, "System malfunction. Please, try later")
	}
}
