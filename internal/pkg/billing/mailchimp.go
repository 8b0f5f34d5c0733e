package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MailchimpClient subscribes addresses to one Mailchimp audience
type MailchimpClient struct {
	APIKey     string
	ListID     string
	APIBaseURL string

	HTTPClient *http.Client
}

// NewMailchimpClient derives the API host from the key's data center suffix unless baseURL is set.
func NewMailchimpClient(apiKey, listID, baseURL string) (*MailchimpClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" || strings.TrimSpace(listID) == "" {
		return nil, errors.New("MAILCHIMP_API_KEY/MAILCHIMP_LIST_ID are not configured")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		idx := strings.LastIndex(apiKey, "-")
		if idx < 0 || idx == len(apiKey)-1 {
			return nil, errors.New("MAILCHIMP_API_KEY has no data center suffix")
		}
		baseURL = fmt.Sprintf("https://%s.api.mailchimp.com/3.0", apiKey[idx+1:])
	}
	return &MailchimpClient{
		APIKey:     apiKey,
		ListID:     strings.TrimSpace(listID),
		APIBaseURL: baseURL,
		HTTPClient: newHTTPClient(),
	}, nil
}

// Subscribe adds email to the list. An address that is already a member is not an error.
func (c *MailchimpClient) Subscribe(ctx context.Context, email string) error {
	payload, err := json.Marshal(map[string]string{
		"email_address": email,
		"status":        "subscribed",
	})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/lists/%s/members", c.APIBaseURL, c.ListID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.SetBasicAuth("pledgeservice", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var problem struct {
		Title string `json:"title"`
	}
	_ = json.Unmarshal(body, &problem)
	if resp.StatusCode == http.StatusBadRequest && problem.Title == "Member Exists" {
		return nil
	}
	return fmt.Errorf("mailchimp subscribe failed: status=%d body=%s", resp.StatusCode, string(body))
}
