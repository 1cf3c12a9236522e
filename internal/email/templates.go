package email

import (
	"bytes"
	"fmt"
	"html/template"
)

var graceWarningTemplate = template.Must(template.New("grace_warning").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Your Vigilo subscription needs attention</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
<tr><td style="padding: 32px 40px; text-align: center;">
<h1 style="margin: 0 0 16px; font-size: 24px; color: #1a1a1a;">Your subscription needs attention</h1>
<p style="margin: 0 0 24px; color: #666; font-size: 15px; line-height: 1.5;">
Your {{.Plan}} subscription has lapsed. You have <strong>{{.DaysRemaining}} {{if eq .DaysRemaining 1}}day{{else}}days{{end}}</strong> left before your workspace is moved to the free plan and paid features are disabled.
</p>
<a href="{{.BillingURL}}" style="display: inline-block; padding: 12px 32px; background: #2563eb; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px; font-weight: 500;">
Update Billing
</a>
<p style="margin: 24px 0 0; color: #999; font-size: 13px; line-height: 1.5;">
Your monitors keep running during this period. If you already renewed, you can ignore this email.
</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

// GraceWarningData holds template data for the grace warning email.
type GraceWarningData struct {
	Plan          string
	DaysRemaining int
	BillingURL    string
}

// RenderGraceWarningEmail renders the grace period warning HTML email.
func RenderGraceWarningEmail(data GraceWarningData) (html, text string, err error) {
	var buf bytes.Buffer
	if err := graceWarningTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render grace warning template: %w", err)
	}

	unit := "days"
	if data.DaysRemaining == 1 {
		unit = "day"
	}
	textBody := fmt.Sprintf("Your %s subscription has lapsed.\n\nYou have %d %s left before your workspace is moved to the free plan. Update billing here: %s\n\nYour monitors keep running during this period. If you already renewed, ignore this email.",
		data.Plan, data.DaysRemaining, unit, data.BillingURL)

	return buf.String(), textBody, nil
}

var downgradeTemplate = template.Must(template.New("downgraded").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Your Vigilo workspace was moved to the free plan</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
<tr><td style="padding: 32px 40px; text-align: center;">
<h1 style="margin: 0 0 16px; font-size: 24px; color: #1a1a1a;">Workspace moved to the free plan</h1>
<p style="margin: 0 0 24px; color: #666; font-size: 15px; line-height: 1.5;">
The grace period on your {{.PreviousPlan}} subscription ended, so your workspace is now on the free plan. Your data is intact; resources above the free limits are paused, not deleted.
</p>
<a href="{{.BillingURL}}" style="display: inline-block; padding: 12px 32px; background: #2563eb; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px; font-weight: 500;">
Resubscribe
</a>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

// DowngradeData holds template data for the downgrade notice email.
type DowngradeData struct {
	PreviousPlan string
	BillingURL   string
}

// RenderDowngradeEmail renders the post-grace downgrade HTML email.
func RenderDowngradeEmail(data DowngradeData) (html, text string, err error) {
	var buf bytes.Buffer
	if err := downgradeTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render downgrade template: %w", err)
	}

	textBody := fmt.Sprintf("The grace period on your %s subscription ended, so your workspace is now on the free plan.\n\nYour data is intact; resources above the free limits are paused, not deleted. Resubscribe here: %s",
		data.PreviousPlan, data.BillingURL)

	return buf.String(), textBody, nil
}
