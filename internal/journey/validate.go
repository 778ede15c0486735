package journey

import (
	"fmt"

	"example.com/attribution/internal/domain"

	log "github.com/sirupsen/logrus"
)

// Validate checks every record and that each journey has a conversion
// session. It has no side effects beyond logging.
func Validate(records []domain.JourneySessionRecord) []domain.FieldError {
	var errs []domain.FieldError
	marked := make(map[string]bool)
	var order []string

	for i := range records {
		errs = append(errs, domain.ValidateRecord(fmt.Sprintf("records[%d]", i), &records[i])...)

		id := records[i].ConversionID
		if _, ok := marked[id]; !ok {
			order = append(order, id)
		}
		marked[id] = marked[id] || records[i].IsConversionSession()
	}
	for _, id := range order {
		if !marked[id] {
			errs = append(errs, domain.FieldError{Field: "journey[" + id + "]", Msg: "has no conversion session"})
		}
	}
	return errs
}

// Valid fails closed: one bad record invalidates the whole set.
func Valid(records []domain.JourneySessionRecord) bool {
	errs := Validate(records)
	for _, fe := range errs {
		log.WithField("error", fe.Error()).Error("Invalid journey data.")
	}
	return len(errs) == 0
}
