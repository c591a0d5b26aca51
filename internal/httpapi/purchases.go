package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"spabook/internal/metrics"
	"spabook/internal/purchases"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// parseFilter reads type, status, date_from, date_to (YYYY-MM-DD), amount_min,
// amount_max, search, page and limit. type and status may repeat or be comma
// separated.
func parseFilter(q url.Values) (purchases.Filter, error) {
	f := purchases.Filter{
		Types:    splitList(q["type"]),
		Statuses: splitList(q["status"]),
		Search:   q.Get("search"),
	}

	var err error
	if f.DateFrom, err = parseDate(q.Get("date_from"), false); err != nil {
		return f, fmt.Errorf("invalid date_from: %w", err)
	}
	if f.DateTo, err = parseDate(q.Get("date_to"), true); err != nil {
		return f, fmt.Errorf("invalid date_to: %w", err)
	}
	if f.AmountMin, err = parseAmount(q.Get("amount_min")); err != nil {
		return f, fmt.Errorf("invalid amount_min: %w", err)
	}
	if f.AmountMax, err = parseAmount(q.Get("amount_max")); err != nil {
		return f, fmt.Errorf("invalid amount_max: %w", err)
	}
	if v := q.Get("page"); v != "" {
		if f.Page, err = strconv.Atoi(v); err != nil {
			return f, fmt.Errorf("invalid page: %w", err)
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, fmt.Errorf("invalid limit: %w", err)
		}
	}
	return f, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseDate returns the start of the day, or its last instant when endOfDay.
func parseDate(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &t, nil
}

func parseAmount(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Server) handleMemberPurchases(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("member_purchase_history")

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", purchases.ErrUserRequired.Error())
		return
	}
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	res := s.svc.Purchases.MemberSummary(r.Context(), userID, f)
	writeSummary(w, res)
}

func (s *Server) handleAdminPurchases(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_purchases")

	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	res := s.svc.Purchases.AdminSummary(r.Context(), f)
	writeSummary(w, res)
}

// writeSummary answers 500 for a failed summary; bad input is rejected before.
func writeSummary(w http.ResponseWriter, res purchases.Result) {
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func (s *Server) handleMemberStats(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("member_stats")

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", purchases.ErrUserRequired.Error())
		return
	}
	s.writeStats(w, r, userID)
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_stats")
	s.writeStats(w, r, "")
}

func (s *Server) writeStats(w http.ResponseWriter, r *http.Request, userID string) {
	stats, err := s.svc.Purchases.Stats(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_purchases_export")
	s.export(w, r, "")
}

func (s *Server) handleMemberExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("member_purchases_export")

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", purchases.ErrUserRequired.Error())
		return
	}
	s.export(w, r, userID)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request, userID string) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="purchases_%s.xlsx"`, time.Now().Format("20060102")))
	if err := s.svc.Purchases.ExportXLSX(r.Context(), userID, f, w); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("purchase export failed")
		w.Header().Del("Content-Disposition")
		writeServiceError(w, err)
	}
}

func (s *Server) handleMonthlyReport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("monthly_report")

	if s.svc.Reporter == nil {
		writeError(w, http.StatusServiceUnavailable, "disabled", "monthly reports are disabled")
		return
	}
	name, err := s.svc.Reporter.ExportPreviousMonth(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("manual monthly report failed")
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"filename": name})
}
