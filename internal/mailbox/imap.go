package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

// imapClient is the subset of *client.Client the session needs
type imapClient interface {
	Login(username, password string) error
	Logout() error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
}

// IMAPClient implements Client over IMAPS
type IMAPClient struct {
	addr        string
	username    string
	password    string
	folder      string
	dialTimeout time.Duration
	dial        func(addr string, timeout time.Duration) (imapClient, error)

	conn imapClient
}

// IMAPOption customizes an IMAPClient
type IMAPOption func(*IMAPClient)

// WithFolder selects a mailbox other than INBOX
func WithFolder(folder string) IMAPOption {
	return func(c *IMAPClient) {
		if folder != "" {
			c.folder = folder
		}
	}
}

// WithDialTimeout bounds the TLS dial and every command
func WithDialTimeout(timeout time.Duration) IMAPOption {
	return func(c *IMAPClient) {
		if timeout > 0 {
			c.dialTimeout = timeout
		}
	}
}

func withIMAPDialer(dial func(addr string, timeout time.Duration) (imapClient, error)) IMAPOption {
	return func(c *IMAPClient) {
		c.dial = dial
	}
}

// NewIMAPClient creates an unconnected IMAP session
func NewIMAPClient(host string, port int, username, password string, opts ...IMAPOption) *IMAPClient {
	if port == 0 {
		port = 993
	}
	c := &IMAPClient{
		addr:        fmt.Sprintf("%s:%d", host, port),
		username:    username,
		password:    password,
		folder:      "INBOX",
		dialTimeout: 30 * time.Second,
		dial:        dialTLS,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func dialTLS(addr string, timeout time.Duration) (imapClient, error) {
	c, err := client.DialWithDialerTLS(&net.Dialer{Timeout: timeout}, addr, nil)
	if err != nil {
		return nil, err
	}
	c.Timeout = timeout
	return c, nil
}

// Connect dials, authenticates and selects the configured folder
func (c *IMAPClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := c.dial(c.addr, c.dialTimeout)
	if err != nil {
		logrus.Errorf("Failed to connect to IMAP server %s: %v", c.addr, err)
		return fmt.Errorf("imap connect: %w", err)
	}

	if err := conn.Login(c.username, c.password); err != nil {
		conn.Logout()
		logrus.Errorf("Failed to login to IMAP server %s: %v", c.addr, err)
		return fmt.Errorf("imap auth: %w", err)
	}

	if _, err := conn.Select(c.folder, false); err != nil {
		conn.Logout()
		return fmt.Errorf("imap select %s: %w", c.folder, err)
	}

	c.conn = conn
	logrus.Infof("Connected to IMAP server %s as %s", c.addr, c.username)
	return nil
}

// Search implements Client
func (c *IMAPClient) Search(ctx context.Context, criteria []string, terms []string) ([]string, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	return searchUnion(ctx, terms, func(ctx context.Context, term string) ([]string, error) {
		sc, err := BuildSearchCriteria(criteria)
		if err != nil {
			return nil, err
		}
		if term != "" {
			sc.Header.Add("Subject", term)
		}

		uids, err := c.conn.UidSearch(sc)
		if err != nil {
			return nil, fmt.Errorf("imap search: %w", err)
		}

		ids := make([]string, 0, len(uids))
		for _, uid := range uids {
			ids = append(ids, strconv.FormatUint(uint64(uid), 10))
		}
		return ids, nil
	})
}

// Fetch implements Client. BODY.PEEK[] leaves \Seen untouched.
func (c *IMAPClient) Fetch(ctx context.Context, id string) ([]byte, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqset, err := uidSet(id)
	if err != nil {
		return nil, err
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.conn.UidFetch(seqset, items, messages)
	}()

	var raw []byte
	var readErr error
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			for _, literal := range msg.Body {
				body = literal
				break
			}
		}
		if body == nil {
			continue
		}
		raw, readErr = io.ReadAll(body)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch %s: %w", id, err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("imap read body %s: %w", id, readErr)
	}
	if raw == nil {
		return nil, fmt.Errorf("uid %s: %w", id, ErrMessageNotFound)
	}
	return raw, nil
}

// MarkRead implements Client with +FLAGS.SILENT (\Seen)
func (c *IMAPClient) MarkRead(ctx context.Context, id string) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	seqset, err := uidSet(id)
	if err != nil {
		return err
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := c.conn.UidStore(seqset, item, flags, nil); err != nil {
		return fmt.Errorf("imap store seen %s: %w", id, err)
	}
	return nil
}

// Disconnect logs out. Calling it on an unconnected client is a no-op.
func (c *IMAPClient) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Logout()
	c.conn = nil
	if err != nil {
		logrus.Warnf("IMAP logout error: %v", err)
		return fmt.Errorf("imap logout: %w", err)
	}
	return nil
}

func uidSet(id string) (*imap.SeqSet, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil || uid == 0 {
		return nil, fmt.Errorf("invalid uid %q: %w", id, ErrMessageNotFound)
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))
	return seqset, nil
}

const imapDateLayout = "2-Jan-2006"

var errMissingArgument = errors.New("search key requires an argument")

// BuildSearchCriteria translates IMAP search tokens such as
// ["UNSEEN", "SINCE", "01-Jan-2024"] into go-imap criteria.
func BuildSearchCriteria(tokens []string) (*imap.SearchCriteria, error) {
	sc := imap.NewSearchCriteria()

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
			sc.WithFlags = append(sc.WithFlags, imap.SeenFlag)
		case "UNSEEN":
			sc.WithoutFlags = append(sc.WithoutFlags, imap.SeenFlag)
		case "FLAGGED":
			sc.WithFlags = append(sc.WithFlags, imap.FlaggedFlag)
		case "UNFLAGGED":
			sc.WithoutFlags = append(sc.WithoutFlags, imap.FlaggedFlag)
		case "ANSWERED":
			sc.WithFlags = append(sc.WithFlags, imap.AnsweredFlag)
		case "UNANSWERED":
			sc.WithoutFlags = append(sc.WithoutFlags, imap.AnsweredFlag)
		case "DELETED":
			sc.WithFlags = append(sc.WithFlags, imap.DeletedFlag)
		case "UNDELETED":
			sc.WithoutFlags = append(sc.WithoutFlags, imap.DeletedFlag)
		case "RECENT":
			sc.WithFlags = append(sc.WithFlags, imap.RecentFlag)
		case "NEW":
			sc.WithFlags = append(sc.WithFlags, imap.RecentFlag)
			sc.WithoutFlags = append(sc.WithoutFlags, imap.SeenFlag)
		case "OLD":
			sc.WithoutFlags = append(sc.WithoutFlags, imap.RecentFlag)
		case "SINCE", "BEFORE", "ON":
			arg, err := next(&i, key)
			if err != nil {
				return nil, err
			}
			date, err := time.Parse(imapDateLayout, arg)
			if err != nil {
				return nil, fmt.Errorf("%s date %q: %w", key, arg, err)
			}
			switch key {
			case "SINCE":
				sc.Since = date
			case "BEFORE":
				sc.Before = date
			case "ON":
				sc.Since = date
				sc.Before = date.AddDate(0, 0, 1)
			}
		case "FROM", "TO", "SUBJECT":
			arg, err := next(&i, key)
			if err != nil {
				return nil, err
			}
			sc.Header.Add(headerName(key), arg)
		case "BODY":
			arg, err := next(&i, key)
			if err != nil {
				return nil, err
			}
			sc.Body = append(sc.Body, arg)
		case "TEXT":
			arg, err := next(&i, key)
			if err != nil {
				return nil, err
			}
			sc.Text = append(sc.Text, arg)
		default:
			return nil, fmt.Errorf("unsupported search key %q", tokens[i])
		}
	}

	return sc, nil
}

func headerName(key string) string {
	switch key {
	case "FROM":
		return "From"
	case "TO":
		return "To"
	default:
		return "Subject"
	}
}
