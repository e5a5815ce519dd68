package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"dice-match-system/models"
)

// CollaboratorClient is the shared HTTP plumbing for the social/profile/
// ranking/tournament services. Requests carry the service token the same way
// every other internal call in the platform does.
type CollaboratorClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewCollaboratorClient(baseURL, token string) *CollaboratorClient {
	return &CollaboratorClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *CollaboratorClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.ErrNotFound
	case resp.StatusCode >= 500:
		log.Printf("[Collaborator] GET %s returned %d: %s", path, resp.StatusCode, string(body))
		return fmt.Errorf("%w: %s returned %d", models.ErrUnavailable, path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("collaborator call %s failed: %d", path, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

func (c *CollaboratorClient) postJSON(ctx context.Context, path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		log.Printf("[Collaborator] POST %s returned %d: %s", path, resp.StatusCode, string(body))
		return fmt.Errorf("%w: %s returned %d", models.ErrUnavailable, path, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("collaborator call %s failed: %d", path, resp.StatusCode)
	}
	return nil
}

// SocialGraphClient implements SocialGraph against the social service.
type SocialGraphClient struct {
	*CollaboratorClient
}

func (c *SocialGraphClient) AreConnected(ctx context.Context, playerA, playerB string) (bool, error) {
	var out struct {
		Connected bool `json:"connected"`
	}
	path := fmt.Sprintf("/social/connections/check?a=%s&b=%s",
		url.QueryEscape(playerA), url.QueryEscape(playerB))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Connected, nil
}

// ProfileClient implements ProfileProvider against the profile service.
type ProfileClient struct {
	*CollaboratorClient
}

func (c *ProfileClient) GetPlayerSnapshot(ctx context.Context, playerID string) (models.PlayerSnapshot, error) {
	var snapshot models.PlayerSnapshot
	path := "/profiles/" + url.PathEscape(playerID) + "/snapshot"
	if err := c.getJSON(ctx, path, &snapshot); err != nil {
		return models.PlayerSnapshot{}, err
	}
	return snapshot, nil
}

// RankingClient implements RankingService against the ranking service.
type RankingClient struct {
	*CollaboratorClient
}

func (c *RankingClient) HasActivePeriod(ctx context.Context) (bool, error) {
	var out struct {
		Active bool `json:"active"`
	}
	if err := c.getJSON(ctx, "/ranking/periods/current", &out); err != nil {
		return false, err
	}
	return out.Active, nil
}

func (c *RankingClient) RecordResult(ctx context.Context, match *models.Match) error {
	payload := map[string]any{
		"match_id":   match.ID,
		"game_mode":  match.GameMode,
		"winner_id":  match.WinnerID,
		"end_reason": match.EndReason,
		"players":    match.AuthorizedPlayers,
	}
	return c.postJSON(ctx, "/ranking/results", payload)
}

// TournamentClient implements TournamentRegistry against the tournament
// service.
type TournamentClient struct {
	*CollaboratorClient
}

func (c *TournamentClient) IsRegistered(ctx context.Context, tournamentID, playerID string) (bool, error) {
	var out struct {
		Registered bool `json:"registered"`
	}
	path := fmt.Sprintf("/tournaments/%s/registrations/%s",
		url.PathEscape(tournamentID), url.PathEscape(playerID))
	err := c.getJSON(ctx, path, &out)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return out.Registered, nil
}
