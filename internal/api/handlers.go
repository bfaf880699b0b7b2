package api

import (
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"

	"github.com/ethpandaops/medianage/internal/histogram"
)

// timeLayout formats timeAdded and fulfillmentTime.
const timeLayout = "2006-01-02 15:04:05 MST"

// AddResponse is returned by /birthday/add.
type AddResponse struct {
	BirthdayAdded string `json:"birthdayAdded"`
	TimeAdded     string `json:"timeAdded"`
}

// MedianAgeResponse is returned by /birthday/medianage. MedianAge is null
// when the range holds no birthdays.
type MedianAgeResponse struct {
	MedianAge       *int   `json:"medianAge"`
	FulfillmentTime string `json:"fulfillmentTime"`
}

// MedianResponse is returned by /birthday/median.
type MedianResponse struct {
	Median          *string `json:"median"`
	FulfillmentTime string  `json:"fulfillmentTime"`
}

// ErrorResponse is the body of every 400.
type ErrorResponse struct {
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (s *Server) handleAdd(c *gin.Context) {
	raw := c.Query("birthday")

	d, err := parseDate("birthday", raw)
	if err != nil {
		s.reject(c, "parse", err)

		return
	}

	if err := s.store.Add(d); err != nil {
		s.reject(c, rejectReason(err), err)

		return
	}

	now := s.now()

	if s.health != nil {
		s.health.BirthdaysAdded.Inc()
	}

	if s.onAdded != nil {
		s.onAdded(d, now)
	}

	c.JSON(http.StatusOK, AddResponse{
		BirthdayAdded: raw,
		TimeAdded:     now.Format(timeLayout),
	})
}

func (s *Server) handleMedianAge(c *gin.Context) {
	median, ok, err := s.findMedian(c)
	if err != nil {
		s.badRequest(c, err)

		return
	}

	resp := MedianAgeResponse{FulfillmentTime: s.now().Format(timeLayout)}

	if ok {
		age := AgeOn(median, s.clock.Today())
		resp.MedianAge = &age
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleMedian(c *gin.Context) {
	median, ok, err := s.findMedian(c)
	if err != nil {
		s.badRequest(c, err)

		return
	}

	resp := MedianResponse{FulfillmentTime: s.now().Format(timeLayout)}

	if ok {
		str := median.String()
		resp.Median = &str
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) findMedian(c *gin.Context) (civil.Date, bool, error) {
	start, err := parseDate("start", c.Query("start"))
	if err != nil {
		return civil.Date{}, false, err
	}

	end, err := parseDate("end", c.Query("end"))
	if err != nil {
		return civil.Date{}, false, err
	}

	return s.median.FindMedian(start, end)
}

func (s *Server) reject(c *gin.Context, reason string, err error) {
	if s.health != nil {
		s.health.BirthdaysRejected.WithLabelValues(reason).Inc()
	}

	s.badRequest(c, err)
}

func (s *Server) badRequest(c *gin.Context, err error) {
	s.log.WithError(err).Debug("Bad request")

	c.JSON(http.StatusBadRequest, ErrorResponse{
		Message: http.StatusText(http.StatusBadRequest),
		Details: []string{err.Error()},
	})
}

func parseDate(param, raw string) (civil.Date, error) {
	if raw == "" {
		return civil.Date{}, fmt.Errorf("required parameter %q is not present", param)
	}

	d, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, fmt.Errorf("parameter %q: %w", param, err)
	}

	return d, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, histogram.ErrOutOfRangeDate):
		return "out_of_range"
	case errors.Is(err, histogram.ErrInvalidDate):
		return "invalid_date"
	default:
		return "other"
	}
}

// AgeOn returns the number of whole years from birth to today. It is
// negative when birth is after today.
func AgeOn(birth, today civil.Date) int {
	if today.Before(birth) {
		return -AgeOn(today, birth)
	}

	age := today.Year - birth.Year

	if today.Month < birth.Month || (today.Month == birth.Month && today.Day < birth.Day) {
		age--
	}

	return age
}
