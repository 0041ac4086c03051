package dispatch

import (
	"encoding/json"
	"os"
	"time"
)

// AuthState is a read-only view of the CLI's on-disk token cache. The CLI
// owns authentication and refreshes the cache itself; scholard only reports
// whether a token is present so readiness surfaces can warn early.
type AuthState struct {
	Path         string
	TokenPresent bool
	CheckedAt    time.Time
}

// authFile mirrors the fields we care about in the CLI token cache.
type authFile struct {
	Tokens struct {
		AccessToken string `json:"access_token"`
	} `json:"tokens"`
	APIKey string `json:"OPENAI_API_KEY"`
}

// ReadAuthState probes the token cache at path. Any read or parse problem
// reports token-absent rather than erroring.
func ReadAuthState(path string) AuthState {
	state := AuthState{Path: path, CheckedAt: time.Now()}
	if path == "" {
		return state
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return state
	}

	var af authFile
	if err := json.Unmarshal(data, &af); err != nil {
		return state
	}
	state.TokenPresent = af.Tokens.AccessToken != "" || af.APIKey != ""
	return state
}
