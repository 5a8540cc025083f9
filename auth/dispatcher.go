// Package auth applies authentication to outbound wire requests and manages
// the OAuth2 authorization-code flow and gateway user sessions.
package auth

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/types"
)

// Dispatcher applies the first workable auth config to a request. Configs
// are attempted in the order given (the store returns them highest priority
// first); a config that cannot be applied is skipped and its failure
// recorded. When every config fails and at least one was required, the
// aggregated failure is returned.
type Dispatcher struct {
	now func() time.Time
}

// NewDispatcher creates an auth dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{now: time.Now}
}

// Apply decorates the request with credentials. userAuth carries the
// caller's OAuth2 tokens and may be nil when no flow has completed.
func (d *Dispatcher) Apply(req *types.WireRequest, configs []types.AuthConfig,
	userAuth *types.UserAuthorization) error {
	if len(configs) == 0 {
		return nil
	}

	var failures []string
	required := false
	for _, config := range configs {
		if config.Required {
			required = true
		}
		if err := d.apply(req, &config, userAuth); err != nil {
			if errors.IsKind(err, errors.KindAuthorizationExpired) {
				return err
			}
			failures = append(failures, fmt.Sprintf("%s: %v", string(config.Scheme), err))
			continue
		}
		return nil
	}

	if !required {
		return nil
	}
	return errors.NewKind(errors.KindAuthenticationFailed,
		"Dispatcher", "Apply", "no auth config applied: %s", strings.Join(failures, "; "))
}

func (d *Dispatcher) apply(req *types.WireRequest, config *types.AuthConfig,
	userAuth *types.UserAuthorization) error {
	switch config.Scheme {
	case types.SchemeBasic:
		return applyBasic(req, config.Config)
	case types.SchemeBearer:
		return applyBearer(req, config.Config)
	case types.SchemeAPIKey:
		return applyAPIKey(req, config.Config)
	case types.SchemeOAuth2:
		return d.applyOAuth2(req, userAuth)
	default:
		return fmt.Errorf("unknown scheme %q", string(config.Scheme))
	}
}

func applyBasic(req *types.WireRequest, config map[string]any) error {
	username, _ := config["username"].(string)
	password, _ := config["password"].(string)
	if username == "" {
		return fmt.Errorf("username is not configured")
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	setHeader(req, "Authorization", "Basic "+credentials)
	return nil
}

func applyBearer(req *types.WireRequest, config map[string]any) error {
	token, _ := config["token"].(string)
	if token == "" {
		return fmt.Errorf("token is not configured")
	}
	setHeader(req, "Authorization", "Bearer "+token)
	return nil
}

func applyAPIKey(req *types.WireRequest, config map[string]any) error {
	key, _ := config["key"].(string)
	if key == "" {
		return fmt.Errorf("key is not configured")
	}
	name, _ := config["name"].(string)
	if name == "" {
		name = "X-API-Key"
	}
	location, _ := config["in"].(string)
	switch location {
	case "query":
		if req.Query == nil {
			req.Query = make(map[string]string)
		}
		req.Query[name] = key
	case "cookie":
		if req.Headers == nil {
			req.Headers = make(http.Header)
		}
		req.Headers.Add("Cookie", name+"="+key)
	default:
		setHeader(req, name, key)
	}
	return nil
}

// applyOAuth2 uses the caller's stored tokens. Expiry is checked lazily at
// call time rather than by a background sweeper.
func (d *Dispatcher) applyOAuth2(req *types.WireRequest, userAuth *types.UserAuthorization) error {
	if userAuth == nil || userAuth.AccessToken == "" {
		return fmt.Errorf("no completed authorization")
	}
	if userAuth.Expired(d.now()) {
		return errors.NewKind(errors.KindAuthorizationExpired,
			"Dispatcher", "applyOAuth2", "authorization expired at %s",
			userAuth.ExpiresAt.Format(time.RFC3339))
	}
	tokenType := userAuth.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	setHeader(req, "Authorization", tokenType+" "+userAuth.AccessToken)
	return nil
}

func setHeader(req *types.WireRequest, key, value string) {
	if req.Headers == nil {
		req.Headers = make(http.Header)
	}
	req.Headers.Set(key, value)
}
