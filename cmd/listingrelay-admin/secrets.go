package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/target/listing-relay/internal/bootstrap"
	"github.com/target/listing-relay/internal/data/cryptoutil"
)

// runSealSecret prints the sealed form of a signing secret for webhook_subscriptions.secret.
// The plaintext comes from --value or the first line of stdin.
func runSealSecret(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("seal-secret", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	value := fs.String("value", "", "Plaintext secret; read from stdin when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := cmdCtx.Config.SubscriptionSecretKey
	if key == "" {
		return errors.New("SUBSCRIPTION_SECRET_KEY must be set to seal secrets")
	}

	plaintext := *value
	if plaintext == "" {
		line, err := bufio.NewReader(cmdCtx.In).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read secret from stdin: %w", err)
		}
		plaintext = strings.TrimRight(line, "\r\n")
	}
	if plaintext == "" {
		return errors.New("secret is empty")
	}
	if cryptoutil.IsSealed(plaintext) {
		return errors.New("secret is already sealed")
	}

	box, err := cryptoutil.NewSecretBox(bootstrap.DeriveSecretKey(key))
	if err != nil {
		return err
	}
	sealed, err := box.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("seal secret: %w", err)
	}
	return writef(cmdCtx.Out, "%s\n", sealed)
}
