package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dilshat/wa-broadcast/model"
	"golang.org/x/time/rate"
)

type RateLimiter interface {
	// Wait blocks until the limiter permits an event to happen.
	Wait(ctx context.Context) error
}

// WhatsAppChannel sends text messages through the WhatsApp Cloud API.
type WhatsAppChannel struct {
	url         string
	token       string
	client      *http.Client
	rateLimiter RateLimiter
}

func NewWhatsAppChannel(apiUrl, phoneId, token string, tps int) *WhatsAppChannel {
	return &WhatsAppChannel{
		url:         strings.TrimRight(apiUrl, "/") + "/" + phoneId + "/messages",
		token:       token,
		client:      &http.Client{Timeout: 10 * time.Second},
		rateLimiter: rate.NewLimiter(rate.Limit(tps), 1),
	}
}

type textBody struct {
	PreviewUrl bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		Id string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *WhatsAppChannel) Send(ctx context.Context, phone, text string) (string, error) {
	//impose tps limit
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", err
	}

	reqBody, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               phone,
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", NewDeliveryError(err.Error(), false)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var sr sendResponse
	_ = json.Unmarshal(body, &sr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := fmt.Sprintf("unexpected status code: %d", resp.StatusCode)
		if sr.Error != nil && sr.Error.Message != "" {
			detail = fmt.Sprintf("%s (code %d)", sr.Error.Message, sr.Error.Code)
		}
		//throttling and provider outages are worth another attempt
		permanent := resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests
		return "", NewDeliveryError(detail, permanent)
	}

	if len(sr.Messages) == 0 || sr.Messages[0].Id == "" {
		return "", NewDeliveryError(fmt.Sprintf("missing message id in response body=%q", string(body)), false)
	}

	return sr.Messages[0].Id, nil
}

// StatusCallback is the webhook payload the Cloud API posts for message status changes.
type StatusCallback struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []struct {
					Id          string `json:"id"`
					Status      string `json:"status"`
					RecipientId string `json:"recipient_id"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type Receipt struct {
	DeliverId string
	Status    string
}

// Receipts extracts delivered and read refinements, other statuses are dropped.
func (s StatusCallback) Receipts() []Receipt {
	var receipts []Receipt
	for _, entry := range s.Entry {
		for _, change := range entry.Changes {
			for _, status := range change.Value.Statuses {
				switch status.Status {
				case "delivered":
					receipts = append(receipts, Receipt{DeliverId: status.Id, Status: model.DELIVERED})
				case "read":
					receipts = append(receipts, Receipt{DeliverId: status.Id, Status: model.READ})
				}
			}
		}
	}
	return receipts
}
