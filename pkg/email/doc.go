// Package email sends transactional mail through Postmark, or writes it to
// disk with DevSender when no server token is configured.
//
//	sender, err := email.New(cfg)
//	if err != nil {
//		return err
//	}
//	err = sender.SendEmail(ctx, email.SendEmailParams{
//		SendTo:   "user@example.com",
//		Subject:  "Your plan is active",
//		BodyHTML: html,
//		Tag:      "subscription-active",
//	})
package email
