package mailbox

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIMAPClient struct {
	loginErr    error
	selectErr   error
	bySubject   map[string][]uint32
	failSubject map[string]bool
	bodies      map[uint32][]byte

	searches    []*imap.SearchCriteria
	fetchItems  []imap.FetchItem
	storedUIDs  []uint32
	storeItem   imap.StoreItem
	storeValue  interface{}
	logoutCalls int
}

func (f *fakeIMAPClient) Login(username, password string) error { return f.loginErr }

func (f *fakeIMAPClient) Logout() error {
	f.logoutCalls++
	return nil
}

func (f *fakeIMAPClient) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	return imap.NewMailboxStatus(name, nil), nil
}

func (f *fakeIMAPClient) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	f.searches = append(f.searches, criteria)
	subject := criteria.Header.Get("Subject")
	if f.failSubject[subject] {
		return nil, errors.New("server said BAD")
	}
	return f.bySubject[subject], nil
}

func (f *fakeIMAPClient) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	f.fetchItems = items
	for uid, body := range f.bodies {
		if !seqset.Contains(uid) {
			continue
		}
		msg := imap.NewMessage(1, items)
		msg.Uid = uid
		section := &imap.BodySectionName{}
		msg.Body[section] = imapLiteral(body)
		ch <- msg
	}
	return nil
}

func (f *fakeIMAPClient) UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error {
	for _, set := range seqset.Set {
		f.storedUIDs = append(f.storedUIDs, set.Start)
	}
	f.storeItem = item
	f.storeValue = value
	return nil
}

func imapLiteral(b []byte) imap.Literal { return bytes.NewReader(b) }

func connectedIMAP(t *testing.T, fake *fakeIMAPClient) *IMAPClient {
	t.Helper()
	c := NewIMAPClient("mail.example.com", 0, "user", "pass",
		withIMAPDialer(func(string, time.Duration) (imapClient, error) { return fake, nil }))
	require.NoError(t, c.Connect(context.Background()))
	return c
}

func TestIMAPSearchUnion(t *testing.T) {
	fake := &fakeIMAPClient{bySubject: map[string][]uint32{
		"factura":     {1, 2},
		"comprobante": {2, 3},
	}}
	c := connectedIMAP(t, fake)

	ids, err := c.Search(context.Background(), []string{"UNSEEN"}, []string{"factura", "comprobante"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids)
	require.Len(t, fake.searches, 2)
	for _, sc := range fake.searches {
		assert.Equal(t, []string{imap.SeenFlag}, sc.WithoutFlags)
	}
}

func TestIMAPSearchSingleTermAndNoTerms(t *testing.T) {
	fake := &fakeIMAPClient{bySubject: map[string][]uint32{
		"factura": {7},
		"":        {7, 8},
	}}
	c := connectedIMAP(t, fake)

	ids, err := c.Search(context.Background(), []string{"UNSEEN"}, []string{"factura"})
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, ids)
	assert.Len(t, fake.searches, 1)

	ids, err = c.Search(context.Background(), []string{"UNSEEN"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "8"}, ids)
	assert.Empty(t, fake.searches[1].Header.Get("Subject"))
}

func TestIMAPSearchFailedSubQueryContributesNothing(t *testing.T) {
	fake := &fakeIMAPClient{
		bySubject:   map[string][]uint32{"comprobante": {4}},
		failSubject: map[string]bool{"factura": true},
	}
	c := connectedIMAP(t, fake)

	ids, err := c.Search(context.Background(), []string{"UNSEEN"}, []string{"factura", "comprobante"})
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, ids)
}

func TestIMAPSearchAllSubQueriesFail(t *testing.T) {
	fake := &fakeIMAPClient{failSubject: map[string]bool{"a": true, "b": true}}
	c := connectedIMAP(t, fake)

	_, err := c.Search(context.Background(), nil, []string{"a", "b"})
	assert.Error(t, err)
}

func TestIMAPFetchPeeksAndMarkRead(t *testing.T) {
	fake := &fakeIMAPClient{bodies: map[uint32][]byte{5: []byte("Subject: hi\r\n\r\nbody")}}
	c := connectedIMAP(t, fake)

	raw, err := c.Fetch(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, "Subject: hi\r\n\r\nbody", string(raw))
	assert.Contains(t, fake.fetchItems, imap.FetchItem("BODY.PEEK[]"))

	require.NoError(t, c.MarkRead(context.Background(), "5"))
	assert.Equal(t, []uint32{5}, fake.storedUIDs)
	assert.Equal(t, imap.FormatFlagsOp(imap.AddFlags, true), fake.storeItem)
	assert.Equal(t, []interface{}{imap.SeenFlag}, fake.storeValue)
}

func TestIMAPFetchMissing(t *testing.T) {
	c := connectedIMAP(t, &fakeIMAPClient{})

	_, err := c.Fetch(context.Background(), "99")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	_, err = c.Fetch(context.Background(), "not-a-uid")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestIMAPNotConnected(t *testing.T) {
	c := NewIMAPClient("mail.example.com", 993, "u", "p")

	_, err := c.Search(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.Fetch(context.Background(), "1")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.MarkRead(context.Background(), "1"), ErrNotConnected)
	assert.NoError(t, c.Disconnect())
}

func TestIMAPConnectErrors(t *testing.T) {
	dialErr := NewIMAPClient("mail.example.com", 993, "u", "p",
		withIMAPDialer(func(string, time.Duration) (imapClient, error) { return nil, errors.New("refused") }))
	assert.ErrorContains(t, dialErr.Connect(context.Background()), "imap connect")

	fake := &fakeIMAPClient{loginErr: errors.New("bad creds")}
	auth := NewIMAPClient("mail.example.com", 993, "u", "p",
		withIMAPDialer(func(string, time.Duration) (imapClient, error) { return fake, nil }))
	assert.ErrorContains(t, auth.Connect(context.Background()), "imap auth")
	assert.Equal(t, 1, fake.logoutCalls)

	fake = &fakeIMAPClient{selectErr: errors.New("no folder")}
	sel := NewIMAPClient("mail.example.com", 993, "u", "p", WithFolder("Facturas"),
		withIMAPDialer(func(string, time.Duration) (imapClient, error) { return fake, nil }))
	assert.ErrorContains(t, sel.Connect(context.Background()), "imap select Facturas")
}

func TestIMAPDisconnectLogsOut(t *testing.T) {
	fake := &fakeIMAPClient{}
	c := connectedIMAP(t, fake)

	require.NoError(t, c.Disconnect())
	assert.Equal(t, 1, fake.logoutCalls)
	require.NoError(t, c.Disconnect())
	assert.Equal(t, 1, fake.logoutCalls)
}

func TestBuildSearchCriteria(t *testing.T) {
	sc, err := BuildSearchCriteria([]string{"UNSEEN", "FLAGGED", "FROM", "billing@vendor.com.py", "SINCE", "01-Jan-2024"})
	require.NoError(t, err)
	assert.Equal(t, []string{imap.SeenFlag}, sc.WithoutFlags)
	assert.Equal(t, []string{imap.FlaggedFlag}, sc.WithFlags)
	assert.Equal(t, "billing@vendor.com.py", sc.Header.Get("From"))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), sc.Since)

	sc, err = BuildSearchCriteria([]string{"ON", "15-Mar-2024", "TEXT", "factura"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), sc.Since)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), sc.Before)
	assert.Equal(t, []string{"factura"}, sc.Text)

	sc, err = BuildSearchCriteria([]string{"NEW"})
	require.NoError(t, err)
	assert.Equal(t, []string{imap.RecentFlag}, sc.WithFlags)
	assert.Equal(t, []string{imap.SeenFlag}, sc.WithoutFlags)

	_, err = BuildSearchCriteria([]string{"LARGER", "100"})
	assert.Error(t, err)

	_, err = BuildSearchCriteria([]string{"SINCE"})
	assert.ErrorIs(t, err, errMissingArgument)

	_, err = BuildSearchCriteria([]string{"SINCE", "2024-01-01"})
	assert.Error(t, err)
}
