package callbacks

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"
)

// PayloadInt64 parses the callback payload as int64.
func PayloadInt64(c tele.Context) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(CallbackPayload(c)), 10, 64)
}

// PayloadUUID parses the callback payload as a UUID.
func PayloadUUID(c tele.Context) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(CallbackPayload(c)))
}

// PayloadParts splits the callback payload by sep.
func PayloadParts(c tele.Context, sep string) ([]string, error) {
	p := CallbackPayload(c)
	if p == "" {
		return nil, strconv.ErrSyntax
	}
	return strings.Split(p, sep), nil
}
