package presentation

import "github.com/oraculovoz/oraculo/pkg/types"

// RenderError humanizes code and renders it for prefs, returning the
// entry's recovery action tokens alongside the text; it builds no keyboard.
func RenderError(code ErrorCode, prefs types.UIPreferences) (text string, recoveryTokens []string) {
	entry := Humanize(code)
	return Render(entry, !prefs.SimplifiedUI), entry.RecoveryActions
}
