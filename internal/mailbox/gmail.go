package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const gmailDateLayout = "2006/01/02"

// GmailClient implements Client over the Gmail API
type GmailClient struct {
	clientID     string
	clientSecret string
	refreshToken string
	userEmail    string
	clientOpts   []option.ClientOption

	service *gmail.Service
}

// GmailOption customizes a GmailClient
type GmailOption func(*GmailClient)

// WithGmailClientOptions replaces the OAuth2 token source with explicit
// client options, e.g. a custom endpoint and HTTP client.
func WithGmailClientOptions(opts ...option.ClientOption) GmailOption {
	return func(c *GmailClient) {
		c.clientOpts = opts
	}
}

// NewGmailClient creates an unconnected Gmail session
func NewGmailClient(clientID, clientSecret, refreshToken, userEmail string, opts ...GmailOption) *GmailClient {
	if userEmail == "" {
		userEmail = "me"
	}
	c := &GmailClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		userEmail:    userEmail,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect builds the API service from the refresh token
func (c *GmailClient) Connect(ctx context.Context) error {
	opts := c.clientOpts
	if len(opts) == 0 {
		oauth2Config := &oauth2.Config{
			ClientID:     c.clientID,
			ClientSecret: c.clientSecret,
			Scopes:       []string{gmail.GmailModifyScope},
			Endpoint:     google.Endpoint,
		}
		token := &oauth2.Token{RefreshToken: c.refreshToken}
		opts = []option.ClientOption{option.WithTokenSource(oauth2Config.TokenSource(ctx, token))}
	}

	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		logrus.Errorf("Failed to create Gmail service: %v", err)
		return fmt.Errorf("failed to create Gmail service: %w", err)
	}

	c.service = service
	return nil
}

// Search implements Client
func (c *GmailClient) Search(ctx context.Context, criteria []string, terms []string) ([]string, error) {
	if c.service == nil {
		return nil, ErrNotConnected
	}

	return searchUnion(ctx, terms, func(ctx context.Context, term string) ([]string, error) {
		query, err := BuildGmailQuery(criteria, term)
		if err != nil {
			return nil, err
		}

		var ids []string
		call := c.service.Users.Messages.List(c.userEmail).Q(query)
		err = call.Pages(ctx, func(resp *gmail.ListMessagesResponse) error {
			for _, msg := range resp.Messages {
				ids = append(ids, msg.Id)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		return ids, nil
	})
}

// Fetch implements Client using format=raw
func (c *GmailClient) Fetch(ctx context.Context, id string) ([]byte, error) {
	if c.service == nil {
		return nil, ErrNotConnected
	}

	msg, err := c.service.Users.Messages.Get(c.userEmail, id).Format("raw").Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("gmail message %s: %w", id, ErrMessageNotFound)
		}
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(msg.Raw, "="))
	if err != nil {
		return nil, fmt.Errorf("failed to decode message %s: %w", id, err)
	}
	return raw, nil
}

// MarkRead removes the UNREAD label
func (c *GmailClient) MarkRead(ctx context.Context, id string) error {
	if c.service == nil {
		return ErrNotConnected
	}

	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
	if _, err := c.service.Users.Messages.Modify(c.userEmail, id, req).Context(ctx).Do(); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("gmail message %s: %w", id, ErrMessageNotFound)
		}
		return fmt.Errorf("failed to mark message %s read: %w", id, err)
	}
	return nil
}

// Disconnect releases the service. The API holds no session to close.
func (c *GmailClient) Disconnect() error {
	c.service = nil
	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// BuildGmailQuery translates IMAP search tokens plus an optional subject term
// into a Gmail search query.
func BuildGmailQuery(tokens []string, term string) (string, error) {
	var parts []string

	next := func(i *int, key string) (string, error) {
		if *i+1 >= len(tokens) {
			return "", fmt.Errorf("%s: %w", key, errMissingArgument)
		}
		*i++
		return strings.Trim(tokens[*i], `"`), nil
	}

	for i := 0; i < len(tokens); i++ {
		key := strings.ToUpper(tokens[i])
		switch key {
		case "ALL":
		case "SEEN":
			parts = append(parts, "is:read")
		case "UNSEEN", "NEW":
			parts = append(parts, "is:unread")
		case "FLAGGED":
			parts = append(parts, "is:starred")
		case "UNFLAGGED":
			parts = append(parts, "-is:starred")
		case "DELETED":
			parts = append(parts, "in:trash")
		case "UNDELETED":
			parts = append(parts, "-in:trash")
		case "SINCE", "BEFORE", "ON":
			arg, err := next(&i, key)
			if err != nil {
				return "", err
			}
			date, err := time.Parse(imapDateLayout, arg)
			if err != nil {
				return "", fmt.Errorf("%s date %q: %w", key, arg, err)
			}
			switch key {
			case "SINCE":
				parts = append(parts, "after:"+date.Format(gmailDateLayout))
			case "BEFORE":
				parts = append(parts, "before:"+date.Format(gmailDateLayout))
			case "ON":
				parts = append(parts,
					"after:"+date.Format(gmailDateLayout),
					"before:"+date.AddDate(0, 0, 1).Format(gmailDateLayout))
			}
		case "FROM", "TO", "SUBJECT":
			arg, err := next(&i, key)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%s:%q", strings.ToLower(key), arg))
		case "BODY", "TEXT":
			arg, err := next(&i, key)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%q", arg))
		default:
			return "", fmt.Errorf("unsupported search key %q for gmail", tokens[i])
		}
	}

	if term != "" {
		parts = append(parts, fmt.Sprintf("subject:%q", term))
	}
	return strings.Join(parts, " "), nil
}
