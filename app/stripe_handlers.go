package app

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/Tristan-Hancock/maya-web-sub000/app/config"
	"github.com/Tristan-Hancock/maya-web-sub000/app/models"
)

// InitStripe wires the Stripe API key from the environment.
func InitStripe() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config for stripe: %v", err)
	}
	stripe.Key = cfg.Stripe.SecretKey
}

// StripeWebhook keeps subscription status and plan code in sync with
// the billing provider. Checkout and portal flows live entirely on the
// provider's side; this endpoint only consumes their outcome.
func StripeWebhook(c *gin.Context) {
	const maxBodyBytes = int64(65536)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		log.Printf("stripe webhook read failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil || cfg.Stripe.WebhookSecret == "" {
		log.Printf("stripe webhook not configured err=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		body,
		c.GetHeader("Stripe-Signature"),
		cfg.Stripe.WebhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		log.Printf("stripe webhook signature failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		return
	}

	ctx := c.Request.Context()

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			log.Printf("stripe session unmarshal failed: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session payload"})
			return
		}
		customerID := ""
		if sess.Customer != nil {
			customerID = sess.Customer.ID
		}
		if customerID == "" {
			log.Printf("stripe session missing customer id")
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing customer id"})
			return
		}

		// ClientReferenceID carries the anonymized user id the
		// checkout was started for; linking it lets later
		// subscription events find the account.
		if sess.ClientReferenceID != "" {
			if err := linkStripeCustomer(ctx, sess.ClientReferenceID, customerID); err != nil {
				log.Printf("stripe customer link failed customer=%s err=%v", customerID, err)
			}
		}
		if err := updateSubscriptionByCustomer(ctx, customerID, models.SubActive, planFromSession(&sess)); err != nil {
			log.Printf("stripe plan activate failed customer=%s err=%v", customerID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
			return
		}

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			log.Printf("stripe subscription unmarshal failed: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription payload"})
			return
		}
		customerID := ""
		if sub.Customer != nil {
			customerID = sub.Customer.ID
		}
		if customerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing customer id"})
			return
		}
		if err := updateSubscriptionByCustomer(ctx, customerID, statusFromSubscription(&sub), planFromSubscription(&sub)); err != nil {
			log.Printf("stripe plan update failed customer=%s err=%v", customerID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
			return
		}

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			log.Printf("stripe subscription unmarshal failed: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription payload"})
			return
		}
		customerID := ""
		if sub.Customer != nil {
			customerID = sub.Customer.ID
		}
		if customerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing customer id"})
			return
		}
		if err := updateSubscriptionByCustomer(ctx, customerID, models.SubCanceled, ""); err != nil {
			log.Printf("stripe plan downgrade failed customer=%s err=%v", customerID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
			return
		}

	default:
		// Intentionally ignore unhandled events.
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func statusFromSubscription(sub *stripe.Subscription) models.SubscriptionStatus {
	if sub.CancelAtPeriodEnd {
		return models.SubCancelAtPeriodEnd
	}
	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return models.SubActive
	case stripe.SubscriptionStatusPastDue:
		return models.SubPastDue
	case stripe.SubscriptionStatusCanceled:
		return models.SubCanceled
	default:
		return models.SubNone
	}
}

func planFromSubscription(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item.Price != nil && item.Price.LookupKey != "" {
			return item.Price.LookupKey
		}
	}
	return ""
}

func planFromSession(sess *stripe.CheckoutSession) string {
	if sess.Metadata != nil {
		if plan, ok := sess.Metadata["plan_code"]; ok {
			return plan
		}
	}
	return "paid_monthly"
}
