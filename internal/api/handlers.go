package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"safarbook/internal/domain"
	"safarbook/internal/models"
	"safarbook/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

type selectionRequest struct {
	PackageID    int64             `json:"package_id" binding:"required,gt=0"`
	AddOnIDs     []int64           `json:"add_on_ids"`
	TierID       int64             `json:"tier_id" binding:"gte=0"`
	TransportID  int64             `json:"transport_id" binding:"gte=0"`
	NumTravelers int               `json:"num_travelers" binding:"gte=0"`
	Travelers    []models.Traveler `json:"traveler_details"`
	TravelStart  *time.Time        `json:"travel_start"`
	TravelEnd    *time.Time        `json:"travel_end"`
	RoomCount    int               `json:"room_count" binding:"gte=0"`
}

func (r selectionRequest) toSelection() (models.Selection, error) {
	manifest, err := manifestOf(r.Travelers)
	if err != nil {
		return models.Selection{}, err
	}
	return models.Selection{
		PackageID:    r.PackageID,
		AddOnIDs:     r.AddOnIDs,
		TierID:       r.TierID,
		TransportID:  r.TransportID,
		NumTravelers: r.NumTravelers,
		Travelers:    manifest,
		TravelStart:  r.TravelStart,
		TravelEnd:    r.TravelEnd,
		RoomCount:    r.RoomCount,
	}, nil
}

type patchRequest struct {
	AddOnIDs     *[]int64           `json:"add_on_ids"`
	TierID       *int64             `json:"tier_id" binding:"omitempty,gte=0"`
	TransportID  *int64             `json:"transport_id" binding:"omitempty,gte=0"`
	NumTravelers *int               `json:"num_travelers" binding:"omitempty,gte=0"`
	Travelers    *[]models.Traveler `json:"traveler_details"`
	TravelStart  *time.Time         `json:"travel_start"`
	TravelEnd    *time.Time         `json:"travel_end"`
	RoomCount    *int               `json:"room_count" binding:"omitempty,gte=0"`
}

func (r *patchRequest) toPatch() (*service.DraftPatch, error) {
	if r == nil {
		return nil, nil
	}
	p := &service.DraftPatch{
		AddOnIDs:     r.AddOnIDs,
		TierID:       r.TierID,
		TransportID:  r.TransportID,
		NumTravelers: r.NumTravelers,
		TravelStart:  r.TravelStart,
		TravelEnd:    r.TravelEnd,
		RoomCount:    r.RoomCount,
	}
	if r.Travelers != nil {
		manifest, err := manifestOf(*r.Travelers)
		if err != nil {
			return nil, err
		}
		p.Travelers = manifest
	}
	return p, nil
}

func manifestOf(travelers []models.Traveler) (*models.TravelerManifest, error) {
	if len(travelers) == 0 {
		return nil, nil
	}
	m, err := models.NewTravelerManifest(travelers)
	if err != nil {
		return nil, domain.ValidationError{Field: "traveler_details", Msg: err.Error(), Err: err}
	}
	return m, nil
}

type verifyRequest struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Signature string `json:"signature"`
}

type ruleRequest struct {
	Name         string     `json:"name" binding:"required,max=120"`
	Kind         string     `json:"kind" binding:"required,oneof=MARKUP DISCOUNT"`
	Magnitude    string     `json:"magnitude" binding:"required"`
	IsPercentage bool       `json:"is_percentage"`
	PackageID    *int64     `json:"package_id" binding:"omitempty,gt=0"`
	ActiveFrom   *time.Time `json:"active_from"`
	ActiveTo     *time.Time `json:"active_to"`
}

type bookingResponse struct {
	*models.Booking
	Reference string `json:"reference"`
}

func newBookingResponse(b *models.Booking) bookingResponse {
	return bookingResponse{Booking: b, Reference: b.Reference()}
}

// quoteResponse stamps the moment a breakdown was served.
type quoteResponse struct {
	*models.Breakdown
	PricedAt time.Time `json:"priced_at"`
}

func newQuoteResponse(bd *models.Breakdown) quoteResponse {
	return quoteResponse{Breakdown: bd, PricedAt: time.Now().UTC()}
}

func bindError(err error) error {
	return domain.ValidationError{Field: "body", Msg: err.Error(), Err: err}
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ValidationError{Field: name, Msg: "must be a positive integer"}
	}
	return id, nil
}

func (s *HTTPServer) handleListPackages(c *gin.Context) {
	pkgs, err := s.deps.Catalog.ListPackages(c.Request.Context())
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": pkgs})
}

// handleGetPackage accepts a numeric id or a slug.
func (s *HTTPServer) handleGetPackage(c *gin.Context) {
	ref := strings.TrimSpace(c.Param("ref"))
	var (
		pkg *models.Package
		err error
	)
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		pkg, err = s.deps.Catalog.GetPackage(c.Request.Context(), id)
	} else {
		pkg, err = s.deps.Catalog.GetPackageBySlug(c.Request.Context(), ref)
	}
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, pkg)
}

func (s *HTTPServer) handleQuote(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.logger, bindError(err))
		return
	}
	sel, err := req.toSelection()
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	bd, err := s.deps.Bookings.Quote(c.Request.Context(), sel)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, newQuoteResponse(bd))
}

func (s *HTTPServer) handleCreateBooking(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.logger, bindError(err))
		return
	}
	sel, err := req.toSelection()
	if err != nil {
		writeError(c, s.logger, err)
		return
	}

	key := strings.TrimSpace(c.GetHeader(idempotencyHeader))
	receipt, replayed, err := s.deps.Bookings.CreateBooking(c.Request.Context(), callerFrom(c), key, sel)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}

	if replayed {
		c.Header(replayedHeader, "true")
		c.JSON(http.StatusOK, receipt)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

func (s *HTTPServer) handleListBookings(c *gin.Context) {
	var status models.BookingStatus
	if raw := c.Query("status"); raw != "" {
		parsed, err := models.ParseBookingStatus(strings.ToUpper(raw))
		if err != nil {
			writeError(c, s.logger, domain.ValidationError{Field: "status", Msg: err.Error(), Err: err})
			return
		}
		status = parsed
	}

	bookings, err := s.deps.Bookings.ListBookings(c.Request.Context(), callerFrom(c), status)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	out := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, newBookingResponse(b))
	}
	c.JSON(http.StatusOK, gin.H{"bookings": out})
}

func (s *HTTPServer) handleGetBooking(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	b, err := s.deps.Bookings.GetBooking(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

func (s *HTTPServer) handleGetByReference(c *gin.Context) {
	b, err := s.deps.Bookings.GetByReference(c.Request.Context(), callerFrom(c), strings.TrimSpace(c.Param("ref")))
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

func (s *HTTPServer) handleUpdateDraft(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.logger, bindError(err))
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeError(c, s.logger, err)
		return
	}

	b, err := s.deps.Bookings.UpdateDraft(c.Request.Context(), callerFrom(c), id, patch)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

// handlePreview prices the stored selection, with an optional body of overrides.
func (s *HTTPServer) handlePreview(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, s.logger, err)
		return
	}

	var patch *service.DraftPatch
	if c.Request.ContentLength != 0 {
		var req patchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, s.logger, bindError(err))
			return
		}
		if patch, err = req.toPatch(); err != nil {
			writeError(c, s.logger, err)
			return
		}
	}

	bd, err := s.deps.Bookings.Preview(c.Request.Context(), callerFrom(c), id, patch)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, newQuoteResponse(bd))
}

func (s *HTTPServer) handleDeleteDraft(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	if err := s.deps.Bookings.DeleteDraft(c.Request.Context(), callerFrom(c), id); err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleCancel(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	b, err := s.deps.Bookings.CancelBooking(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

func (s *HTTPServer) handleClaim(c *gin.Context) {
	caller := callerFrom(c)
	if caller.GuestToken == "" {
		writeError(c, s.logger, domain.ValidationError{Field: "guest_token", Msg: "guest token header is required"})
		return
	}
	result, err := s.deps.Bookings.ClaimGuestDrafts(c.Request.Context(), caller.UserID, caller.GuestToken)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleCreateOrder(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	order, err := s.deps.Payments.CreateOrder(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *HTTPServer) handleVerifyPayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.logger, bindError(err))
		return
	}

	res, err := s.deps.Payments.VerifyAndConfirm(c.Request.Context(), callerFrom(c), id, models.PaymentAssertion{
		ExternalPaymentID: strings.TrimSpace(req.PaymentID),
		ExternalOrderID:   strings.TrimSpace(req.OrderID),
		Signature:         strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"booking":           newBookingResponse(res.Booking),
		"already_confirmed": res.AlreadyConfirmed,
	})
}

func (s *HTTPServer) handleListRules(c *gin.Context) {
	rules, err := s.deps.Rules.ListRules(c.Request.Context())
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *HTTPServer) handleCreateRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.logger, bindError(err))
		return
	}
	magnitude, err := decimal.NewFromString(req.Magnitude)
	if err != nil {
		writeError(c, s.logger, domain.ValidationError{Field: "magnitude", Msg: "must be a decimal number", Err: err})
		return
	}

	rule := &models.PricingRule{
		Name:         req.Name,
		Kind:         models.RuleKind(req.Kind),
		Magnitude:    magnitude,
		IsPercentage: req.IsPercentage,
		PackageID:    req.PackageID,
		ActiveFrom:   time.Now().UTC(),
		ActiveTo:     req.ActiveTo,
		IsActive:     true,
	}
	if req.ActiveFrom != nil {
		rule.ActiveFrom = req.ActiveFrom.UTC()
	}

	if err := s.deps.Rules.CreateRule(c.Request.Context(), rule); err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *HTTPServer) handleSetRuleActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c, "id")
		if err != nil {
			writeError(c, s.logger, err)
			return
		}
		rule, err := s.deps.Rules.SetRuleActive(c.Request.Context(), id, active)
		if err != nil {
			writeError(c, s.logger, err)
			return
		}
		c.JSON(http.StatusOK, rule)
	}
}

func (s *HTTPServer) handleExpire(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	b, err := s.deps.Bookings.ExpireBooking(c.Request.Context(), id)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	s.logger.Info().Int64("booking_id", id).Str("client", c.GetString(ctxClient)).Msg("booking expired by admin")
	c.JSON(http.StatusOK, newBookingResponse(b))
}
