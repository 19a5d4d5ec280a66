package storage

import (
	"strconv"

	"github.com/spf13/cast"

	"github.com/m3rciful/receiverbot/internal/domain"
)

// Setting keys as stored in bot_settings.
const (
	KeyUseProxy       = "use_proxy"
	KeyUseChangeBio   = "use_change_bio"
	KeyUseCheckReport = "use_check_report"
	KeyUseLogCLI      = "use_log_cli"
)

// SettingKeys lists the keys in display order.
var SettingKeys = []string{KeyUseProxy, KeyUseChangeBio, KeyUseCheckReport, KeyUseLogCLI}

// KnownSetting reports whether key is a policy toggle.
func KnownSetting(key string) bool {
	for _, k := range SettingKeys {
		if k == key {
			return true
		}
	}
	return false
}

// PolicyFromValues reads a policy from raw stored values. Unparseable or
// missing values are false.
func PolicyFromValues(values map[string]string) domain.Policy {
	b := func(key string) bool {
		v, err := cast.ToBoolE(values[key])
		return err == nil && v
	}
	return domain.Policy{
		UseProxy:       b(KeyUseProxy),
		UseChangeBio:   b(KeyUseChangeBio),
		UseCheckReport: b(KeyUseCheckReport),
		UseLogCLI:      b(KeyUseLogCLI),
	}
}

// PolicyValues flattens p into stored values.
func PolicyValues(p domain.Policy) map[string]string {
	return map[string]string{
		KeyUseProxy:       strconv.FormatBool(p.UseProxy),
		KeyUseChangeBio:   strconv.FormatBool(p.UseChangeBio),
		KeyUseCheckReport: strconv.FormatBool(p.UseCheckReport),
		KeyUseLogCLI:      strconv.FormatBool(p.UseLogCLI),
	}
}

// PolicyValue returns the toggle named key.
func PolicyValue(p domain.Policy, key string) bool {
	v, _ := cast.ToBoolE(PolicyValues(p)[key])
	return v
}
