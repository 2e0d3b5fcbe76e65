package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"invoice-sync-go/internal/config"
)

// Prints the Gmail mailbox settings for invoice-sync. Client credentials are
// read the same way the service reads them (config.yaml, then environment).
// The modify scope is needed to remove the UNREAD label after a message is
// processed.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	mb := cfg.Mailbox
	if mb.ClientID == "" || mb.ClientSecret == "" {
		logrus.Fatal("Set GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET (or mailbox.client_id and mailbox.client_secret)")
	}

	oauthConfig := &oauth2.Config{
		ClientID:     mb.ClientID,
		ClientSecret: mb.ClientSecret,
		Scopes:       []string{gmail.GmailModifyScope},
		Endpoint:     google.Endpoint,
		RedirectURL:  "http://localhost:8080/callback",
	}

	authURL := oauthConfig.AuthCodeURL("invoice-sync", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Printf("Open this link and grant access to the invoice mailbox:\n%v\n", authURL)
	fmt.Print("\nPaste the 'code' parameter of the redirect URL: ")

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		logrus.Fatalf("Failed to read authorization code: %v", err)
	}

	ctx := context.Background()
	tok, err := oauthConfig.Exchange(ctx, authCode)
	if err != nil {
		logrus.Fatalf("Unable to exchange authorization code: %v", err)
	}
	if tok.RefreshToken == "" {
		logrus.Fatal("No refresh token returned; revoke the app's access and try again")
	}

	// The profile call confirms the scope works and names the mailbox.
	userEmail := mb.UserEmail
	srv, err := gmail.NewService(ctx, option.WithTokenSource(oauthConfig.TokenSource(ctx, tok)))
	if err != nil {
		logrus.Warnf("Could not verify the token: %v", err)
	} else if profile, err := srv.Users.GetProfile("me").Context(ctx).Do(); err != nil {
		logrus.Warnf("Could not read the mailbox profile: %v", err)
	} else {
		userEmail = profile.EmailAddress
		fmt.Printf("\nAuthorized mailbox %s (%d messages)\n", profile.EmailAddress, profile.MessagesTotal)
	}

	fmt.Println("\nEnvironment:")
	fmt.Printf("export EMAIL_BACKEND=%s\n", config.BackendGmail)
	fmt.Printf("export GMAIL_REFRESH_TOKEN=%q\n", tok.RefreshToken)
	if userEmail != "" {
		fmt.Printf("export GMAIL_USER_EMAIL=%q\n", userEmail)
	}

	fmt.Println("\nor in config.yaml:")
	fmt.Printf("mailbox:\n  backend: %s\n  refresh_token: %q\n", config.BackendGmail, tok.RefreshToken)
	if userEmail != "" {
		fmt.Printf("  user_email: %q\n", userEmail)
	}
}
