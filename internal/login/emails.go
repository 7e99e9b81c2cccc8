package login

import (
	"fmt"

	"github.com/wolfeidau/portcullis/internal/mail"
)

func onboardingEmail(to, code, verifyURL string) mail.Message {
	return mail.Message{
		To:      to,
		Subject: "Welcome to Portcullis!",
		Text: fmt.Sprintf("Welcome to Portcullis!\n\n"+
			"Here's your verification code: %s\n\n"+
			"Or click the link to get started: %s\n", code, verifyURL),
	}
}

func changeEmailEmail(to, code, verifyURL string) mail.Message {
	return mail.Message{
		To:      to,
		Subject: "Portcullis email change verification",
		Text: fmt.Sprintf("Here's your verification code: %s\n\n"+
			"Or click the link: %s\n", code, verifyURL),
	}
}

func emailChangedNotice(to, personID string) mail.Message {
	return mail.Message{
		To:      to,
		Subject: "Your Portcullis email has been changed",
		Text: fmt.Sprintf("We're writing to let you know that your Portcullis email has been changed.\n\n"+
			"If you changed your email address, then you can safely ignore this. "+
			"But if you did not change your email address, then please contact support immediately.\n\n"+
			"Your Account ID: %s\n", personID),
	}
}
