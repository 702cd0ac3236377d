// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package debug

import (
	"net/url"
	"strings"
)

const masked = "***"

// sensitiveParams are query parameter fragments whose values never reach logs
var sensitiveParams = []string{"password", "secret", "token", "key", "auth", "sig"}

// MaskSecret hides a credential entirely. Empty stays empty so that logs
// still show whether one was configured.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return masked
}

// MaskURL hides the password of the userinfo and the values of credential
// query parameters. Both service roots and Redis URLs pass through here, so
// a userinfo with only a password (redis://:pw@host) is masked as well.
func MaskURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), masked)
		}
	}

	if u.RawQuery != "" {
		q := u.Query()
		changed := false
		for name := range q {
			if isSensitiveParam(name) {
				q.Set(name, masked)
				changed = true
			}
		}
		if changed {
			u.RawQuery = q.Encode()
		}
	}
	return u.String()
}

func isSensitiveParam(name string) bool {
	name = strings.ToLower(name)
	for _, s := range sensitiveParams {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}
