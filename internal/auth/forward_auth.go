package auth

import (
	"fmt"
	"net/url"
	"strings"
)

// ForwardAuthOutcome classifies the result of a forward-auth check, mirroring
// the three cases nginx/reverse-proxy auth_request handling cares about.
type ForwardAuthOutcome int

const (
	ForwardAuthSuccess ForwardAuthOutcome = iota
	ForwardAuthUnauthorized
	ForwardAuthForbidden
)

// ForwardAuthResult is what the proxy's auth_request handler maps onto an
// HTTP response: 200 with identity headers, a 302 redirect to LoginURL, or
// 403 with a message.
type ForwardAuthResult struct {
	Outcome  ForwardAuthOutcome
	User     *User
	LoginURL string
	Message  string
}

// Headers returns the X-Remote-* identity headers the proxy injects into
// the upstream request on success.
func (r ForwardAuthResult) Headers() map[string]string {
	if r.Outcome != ForwardAuthSuccess || r.User == nil {
		return nil
	}
	return map[string]string{
		"X-Remote-User":   r.User.Username,
		"X-Remote-Email":  r.User.Email,
		"X-Remote-Name":   r.User.DisplayName,
		"X-Remote-Groups": strings.Join(r.User.Groups, ","),
	}
}

// CheckForwardAuth validates a session cookie against the original request
// context and decides whether the proxy should forward, redirect to login,
// or refuse the request outright (hr-auth/src/forward_auth.rs).
//
// allowedGroups, when non-empty, restricts the route to users in at least
// one of those groups; members of "admins" always bypass this check.
func CheckForwardAuth(sessions *SessionStore, users *UserStore, sessionCookie, forwardedHost, forwardedURI, forwardedProto string, allowedGroups []string) ForwardAuthResult {
	loginURL := buildLoginURL(forwardedHost, forwardedURI, forwardedProto)

	if sessionCookie == "" {
		return ForwardAuthResult{Outcome: ForwardAuthUnauthorized, LoginURL: loginURL}
	}

	sess, ok := sessions.Validate(sessionCookie)
	if !ok {
		return ForwardAuthResult{Outcome: ForwardAuthUnauthorized, LoginURL: loginURL}
	}

	user, ok := users.Get(sess.UserID)
	if !ok {
		return ForwardAuthResult{Outcome: ForwardAuthUnauthorized, LoginURL: loginURL}
	}

	if user.Disabled {
		return ForwardAuthResult{Outcome: ForwardAuthForbidden, Message: "account disabled"}
	}

	if !user.IsAdmin() && len(allowedGroups) > 0 && !inAnyGroup(user.Groups, allowedGroups) {
		return ForwardAuthResult{Outcome: ForwardAuthForbidden, Message: "not a member of an allowed group"}
	}

	return ForwardAuthResult{Outcome: ForwardAuthSuccess, User: user}
}

func inAnyGroup(userGroups, allowed []string) bool {
	for _, g := range userGroups {
		for _, a := range allowed {
			if g == a {
				return true
			}
		}
	}
	return false
}

// buildLoginURL builds the redirect target the auth portal uses to return
// the user to the page they originally requested.
func buildLoginURL(forwardedHost, forwardedURI, forwardedProto string) string {
	if forwardedProto == "" {
		forwardedProto = "https"
	}
	originalURL := fmt.Sprintf("%s://%s%s", forwardedProto, forwardedHost, forwardedURI)
	authHost := authPortalHost(forwardedHost)
	return fmt.Sprintf("https://%s/login?rd=%s", authHost, urlencode(originalURL))
}

// authPortalHost derives the auth portal's hostname by swapping the first
// label of forwardedHost for "auth", matching every other internal
// service's naming convention under the base domain.
func authPortalHost(forwardedHost string) string {
	parts := strings.SplitN(forwardedHost, ".", 2)
	if len(parts) != 2 {
		return "auth." + forwardedHost
	}
	return "auth." + parts[1]
}

// urlencode percent-encodes s for use in a query string, matching the
// original daemon's encoder: alphanumerics and -_.~ pass through unchanged.
func urlencode(s string) string {
	return url.QueryEscape(s)
}
