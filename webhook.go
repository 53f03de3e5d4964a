package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/utilitywarehouse/repo-zoek/giturl"
)

type GitHubEvent struct {
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
		HtmlURL  string `json:"html_url"`
		CloneURL string `json:"clone_url"`
	} `json:"repository"`

	// The full git ref that was pushed. Example: refs/heads/main or refs/tags/v3.14.1.
	Ref string `json:"ref"`
	// The SHA of the most recent commit on ref before the push.
	Before string `json:"before"`
	// The SHA of the most recent commit on ref after the push.
	After string `json:"after"`
}

type GithubWebhookHandler struct {
	// org is the login of the mirrored organisation, events of other owners
	// are ignored
	org    string
	secret string
	log    *slog.Logger
	// syncRepo mirrors and indexes the named repository, it's called from
	// its own goroutine
	syncRepo func(name string)
}

func (wh *GithubWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		wh.log.Error("cannot read request body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !wh.isValidSignature(body, r.Header.Get("X-Hub-Signature-256")) {
		wh.log.Error("invalid signature")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event := r.Header.Get("X-GitHub-Event")

	var payload GitHubEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		wh.log.Error("cannot unmarshal json payload", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// The ping event is a confirmation from GitHub that
	// the webhook is configured correctly.
	if event == "ping" {
		w.Write([]byte("pong"))
		return
	}

	// only process 'push' event but but return ok for all events to mark
	// successful delivery
	if event == "push" {
		if name, ok := wh.repoName(payload); ok {
			go wh.syncRepo(name)
		}
		return
	}
}

func (wh *GithubWebhookHandler) isValidSignature(message []byte, signature string) bool {
	return hmac.Equal([]byte(signature), []byte(wh.computeHMAC(message, wh.secret)))
}

func (wh *GithubWebhookHandler) computeHMAC(message []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))

	if _, err := mac.Write(message); err != nil {
		wh.log.Error("cannot compute hmac for request", "error", err)
		return ""
	}

	// GH adds `sha256=` prefix in header value
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// repoName returns the mirror dir name of the pushed repository if it
// belongs to the mirrored organisation
func (wh *GithubWebhookHandler) repoName(event GitHubEvent) (string, bool) {
	owner, name := event.Repository.Owner.Login, event.Repository.Name

	// clone url is preferred as it's what would be mirrored
	if event.Repository.CloneURL != "" {
		u, err := giturl.Parse(event.Repository.CloneURL)
		if err != nil {
			wh.log.Error("unable to parse clone url of push event", "url", event.Repository.CloneURL, "err", err)
			return "", false
		}
		owner, name = u.Path, u.Name()
	}

	if name == "" {
		wh.log.Debug("ignoring push event without repository")
		return "", false
	}
	// github logins are case insensitive
	if !strings.EqualFold(owner, wh.org) {
		wh.log.Debug("ignoring push event of other owner", "owner", owner, "repo", name)
		return "", false
	}
	return name, true
}
