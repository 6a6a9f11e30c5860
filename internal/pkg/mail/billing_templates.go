package mail

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/ManuelReschke/Taskly/internal/pkg/billing"
)

type noticeTemplate struct {
	subject *template.Template
	body    *template.Template
}

var templateFuncs = template.FuncMap{
	"title": titleCase,
	"money": func(cents int64) string { return "$" + billing.FormatAmount(cents) },
	"abs": func(cents int64) int64 {
		if cents < 0 {
			return -cents
		}
		return cents
	},
	"cadence": func(interval string) string {
		if interval == "year" {
			return "yearly"
		}
		return "monthly"
	},
	"date": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.UTC().Format("January 2, 2006")
	},
}

const signature = `
Best regards,
The Taskly Team
`

var noticeSources = map[billing.NoticeKind][2]string{
	billing.NoticeSubscriptionConfirmed: {
		`Welcome to {{title .PlanName}} Plan!`,
		`Hi there,

Thank you for subscribing to the {{title .PlanName}} plan!

Your subscription details:
- Plan: {{title .PlanName}}
- Amount: {{money .AmountCents}}
- Billing: {{cadence .Interval}}

Your subscription is now active and you have access to all {{.PlanName}} features.
If you have any questions, please don't hesitate to reach out.
`,
	},
	billing.NoticeReceipt: {
		`Payment Receipt - Taskly Subscription`,
		`Hi there,

Your payment has been processed successfully!

Payment Details:
- Plan: {{title .PlanName}}
- Amount: {{money .AmountCents}}
- Billing Period: {{cadence .Interval}}
{{if .InvoiceURL}}
View Invoice: {{.InvoiceURL}}
{{end}}
Thank you for continuing to use Taskly!
`,
	},
	billing.NoticeUpgrade: {
		`Upgrade Confirmed - Welcome to {{title .PlanName}}!`,
		`Hi there,

Congratulations! You've successfully upgraded to the {{title .PlanName}} plan!
{{if .OldPlanName}}
- Previous Plan: {{title .OldPlanName}}{{end}}
- New Plan: {{title .PlanName}} ({{money .AmountCents}}/{{.Interval}})

Any prorated charge covers the remaining time in your current billing cycle at the new plan rate.
{{if .InvoiceURL}}
View Invoice: {{.InvoiceURL}}
{{end}}
You now have access to all {{title .PlanName}} features! Enjoy!
`,
	},
	billing.NoticeDowngrade: {
		`Downgrade Confirmed - Now on {{title .PlanName}} Plan`,
		`Hi there,

Your subscription has been downgraded to the {{title .PlanName}} plan.
{{if .OldPlanName}}
- Previous Plan: {{title .OldPlanName}}{{end}}
- New Plan: {{title .PlanName}} ({{money .AmountCents}}/{{.Interval}})

The unused time from your previous plan has been converted to account credit and will apply to your next invoice.
{{if .OldPlanName}}
You can upgrade back to {{title .OldPlanName}} anytime!
{{end}}`,
	},
	billing.NoticeIntervalChange: {
		`Billing Cycle Updated - {{title .PlanName}} Plan`,
		`Hi there,

Your {{title .PlanName}} subscription is now billed {{cadence .Interval}} at {{money .AmountCents}} per {{.Interval}}.
`,
	},
	billing.NoticeCancellationScheduled: {
		`Subscription Cancellation Confirmed`,
		`Hi there,

We're sorry to see you go. Your {{title .PlanName}} subscription has been cancelled.
{{if .PeriodEnd}}
Your subscription will remain active until {{date .PeriodEnd}}.
{{else}}
Your subscription has been cancelled.
{{end}}
After that date, you'll be downgraded to the Free plan and lose access to {{.PlanName}} features.
You can resubscribe at any time if you change your mind.
`,
	},
	billing.NoticeReactivated: {
		`Welcome Back - {{title .PlanName}} Plan Reactivated`,
		`Hi there,

Your {{title .PlanName}} subscription will continue and renew as usual{{if .PeriodEnd}} on {{date .PeriodEnd}}{{end}}.
`,
	},
	billing.NoticeCanceled: {
		`Your Taskly Subscription Has Ended`,
		`Hi there,

Your {{title .PlanName}} subscription has ended and your account is now on the Free plan.
You can resubscribe at any time.
`,
	},
	billing.NoticePaymentFailed: {
		`Action Required: Payment Failed`,
		`Hi there,

We couldn't process your payment of {{money .AmountCents}} for the {{title .PlanName}} plan{{if .AttemptCount}} (attempt {{.AttemptCount}}){{end}}.
{{if .Reason}}
Reason: {{.Reason}}
{{end}}{{if .InvoiceURL}}
Update your payment method and pay the invoice here: {{.InvoiceURL}}
{{end}}
We'll retry the payment automatically. If it keeps failing, your subscription will be cancelled and your account moved to the Free plan.
`,
	},
	billing.NoticePaymentRecovered: {
		`Payment Received - Thank You`,
		`Hi there,

Your outstanding payment of {{money .AmountCents}} for the {{title .PlanName}} plan has been received. Your subscription is active again.
`,
	},
	billing.NoticeRefund: {
		`Refund Processed - Taskly`,
		`Hi there,

A refund of {{money (abs .AmountCents)}} has been issued to your original payment method.
{{if .Reason}}
Reason: {{.Reason}}
{{end}}
Refunds usually appear within 5-10 business days.
`,
	},
}

var noticeTemplates = mustParseNoticeTemplates()

func mustParseNoticeTemplates() map[billing.NoticeKind]noticeTemplate {
	out := make(map[billing.NoticeKind]noticeTemplate, len(noticeSources))
	for kind, src := range noticeSources {
		out[kind] = noticeTemplate{
			subject: template.Must(template.New(string(kind) + "_subject").Funcs(templateFuncs).Parse(src[0])),
			body:    template.Must(template.New(string(kind) + "_body").Funcs(templateFuncs).Parse(src[1] + signature)),
		}
	}
	return out
}

// RenderNotice returns the subject and plain text body for a billing notice.
func RenderNotice(n billing.Notice) (string, string, error) {
	tpl, ok := noticeTemplates[n.Kind]
	if !ok {
		return "", "", fmt.Errorf("no email template for notice %q", n.Kind)
	}
	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, n); err != nil {
		return "", "", err
	}
	if err := tpl.body.Execute(&body, n); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(subject.String()), body.String(), nil
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
