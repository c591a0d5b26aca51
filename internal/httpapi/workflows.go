package httpapi

import (
	"net/http"

	"spabook/internal/booking"
	"spabook/internal/metrics"
	"spabook/internal/subscriptions"
	"spabook/internal/vouchers"
)

func (s *Server) handleSubscriptionPurchase(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("subscription_purchase")

	var req subscriptions.PurchaseRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if req.GuestInfo == nil || req.UserID != "" {
		var ok bool
		if req.UserID, ok = actingFor(r, req.UserID); !ok {
			s.denyUser(w, r, req.UserID)
			return
		}
	}
	res := s.svc.Subscriptions.Purchase(r.Context(), req)
	writeJSON(w, envelopeStatus(res.Success, res.Error, true), res)
}

func (s *Server) handleSubscriptionConfirm(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("subscription_confirm")

	if err := s.svc.Subscriptions.ConfirmPayment(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type reasonRequest struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by"`
}

func (s *Server) handleSubscriptionFail(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("subscription_fail")

	var req reasonRequest
	if err := decode(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if err := s.svc.Subscriptions.FailPayment(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleBookingCreate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_create")

	var req booking.CreateRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	var ok bool
	if req.UserID, ok = actingFor(r, req.UserID); !ok {
		s.denyUser(w, r, req.UserID)
		return
	}
	b, err := s.svc.Bookings.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleBookingConfirm(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_confirm")
	b, err := s.svc.Bookings.Confirm(r.Context(), r.PathValue("id"))
	writeResult(w, b, err)
}

func (s *Server) handleBookingCancel(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_cancel")

	var req reasonRequest
	if err := decode(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if own := boundUser(r); own != "" {
		b, err := s.svc.Bookings.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if b.UserID != own {
			s.denyUser(w, r, b.UserID)
			return
		}
	}
	b, err := s.svc.Bookings.Cancel(r.Context(), r.PathValue("id"), req.Reason, req.CancelledBy)
	writeResult(w, b, err)
}

func (s *Server) handleBookingComplete(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_complete")
	b, err := s.svc.Bookings.Complete(r.Context(), r.PathValue("id"))
	writeResult(w, b, err)
}

func (s *Server) handleBookingAssign(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_assign")

	var req struct {
		ProfessionalID string `json:"professional_id"`
	}
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	b, err := s.svc.Bookings.AssignProfessional(r.Context(), r.PathValue("id"), req.ProfessionalID)
	writeResult(w, b, err)
}

func (s *Server) handleBookingPayment(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_payment")

	var req struct {
		Status string `json:"status"`
	}
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	b, err := s.svc.Bookings.UpdatePayment(r.Context(), r.PathValue("id"), req.Status)
	writeResult(w, b, err)
}

func (s *Server) handleVoucherPurchase(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("gift_voucher_purchase")

	var req vouchers.PurchaseRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if req.GuestInfo == nil || req.PurchaserUserID != "" {
		var ok bool
		if req.PurchaserUserID, ok = actingFor(r, req.PurchaserUserID); !ok {
			s.denyUser(w, r, req.PurchaserUserID)
			return
		}
	}
	res := s.svc.Vouchers.Purchase(r.Context(), req)
	writeJSON(w, envelopeStatus(res.Success, res.Error, true), res)
}

func (s *Server) handleVoucherConfirm(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("gift_voucher_confirm")
	v, err := s.svc.Vouchers.ConfirmPayment(r.Context(), r.PathValue("id"))
	writeResult(w, v, err)
}

func (s *Server) handleVoucherCreate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("gift_voucher_create")

	var req vouchers.CreateRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	v, err := s.svc.Vouchers.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleVoucherUpdate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("gift_voucher_update")

	var req vouchers.UpdateRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	v, err := s.svc.Vouchers.Update(r.Context(), r.PathValue("id"), req)
	writeResult(w, v, err)
}

func (s *Server) handleVoucherDelete(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("gift_voucher_delete")

	if err := s.svc.Vouchers.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVoucherRedeem(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("gift_voucher_redeem")

	var req vouchers.RedeemRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	applied, err := s.svc.Vouchers.Redeem(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "applied_amount": applied})
}

func writeResult(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
