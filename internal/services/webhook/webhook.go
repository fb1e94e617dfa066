package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type Message struct {
	Content string `json:"content"`
}

// Messager posts messages to a Discord compatible webhook. A Messager with
// no url drops every message.
type Messager struct {
	BaseURL string
	Name    string

	client *http.Client
}

func NewMessager(baseURL, name string, client *http.Client) *Messager {
	if client == nil {
		client = http.DefaultClient
	}

	return &Messager{
		BaseURL: baseURL,
		Name:    name,
		client:  client,
	}
}

func (b *Messager) Notify(ctx context.Context, message string) error {
	return b.send(ctx, fmt.Sprintf("[%s] %s", b.Name, message))
}

func (b *Messager) NotifyError(ctx context.Context, errorMessage error) error {
	return b.send(ctx, fmt.Sprintf("[%s] error: %s", b.Name, errorMessage.Error()))
}

func (b *Messager) send(ctx context.Context, content string) error {
	if b.BaseURL == "" {
		return nil
	}

	data, err := json.Marshal(Message{Content: content})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL, bytes.NewReader(data))
	if err != nil {
		return err
	}

	req.Header.Add("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	// discord answers 204 when it does not echo the message
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("error sending message: status %d", resp.StatusCode)
	}

	return nil
}
