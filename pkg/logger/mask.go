package logger

import "go.uber.org/zap"

// MaskPhone creates a zap field with all but the last four digits of a
// phone number hidden. Call logs carry caller numbers and must not leak
// them in full.
func MaskPhone(key, phone string) zap.Field {
	return zap.String(key, maskPhoneNumber(phone))
}

// MaskPhoneIfPresent masks the phone number if not empty.
func MaskPhoneIfPresent(key, phone string) zap.Field {
	if phone == "" {
		return zap.String(key, "")
	}
	return MaskPhone(key, phone)
}

func maskPhoneNumber(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	masked := make([]byte, len(phone))
	for i := range masked {
		if i >= len(phone)-4 || phone[i] == '+' {
			masked[i] = phone[i]
		} else {
			masked[i] = '*'
		}
	}
	return string(masked)
}
