package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/carnil/carnil/internal/domain/errors"
)

func isRequestError(err error) bool { return errors.Is(err, domainErrors.ErrProviderRequest) }

func isNotFound(err error) bool { return errors.Is(err, domainErrors.ErrNotFound) }

// signHeader builds a Stripe-Signature header for payload signed at ts.
func signHeader(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
