package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberpay/internal/types"
)

func testProviders(t *testing.T) (*BTCPayProvider, *WhopProvider, *StripeProvider) {
	t.Helper()
	cfg := ProviderConfig{Secret: testSecret, Logger: discardLogger()}
	btc, err := NewBTCPayProvider(cfg)
	require.NoError(t, err)
	whop, err := NewWhopProvider(cfg)
	require.NoError(t, err)
	stripe, err := NewStripeProvider(cfg)
	require.NoError(t, err)
	return btc, whop, stripe
}

func TestBTCPayDecode(t *testing.T) {
	btc, _, _ := testProviders(t)

	body := []byte(`{
		"deliveryId": "del_2",
		"originalDeliveryId": "del_1",
		"type": "InvoicePaymentSettled",
		"timestamp": 1700000000,
		"storeId": "store_1",
		"invoiceId": "inv_123",
		"overPaid": true,
		"metadata": {"orderId": "ord_9", "buyerEmail": "a@x.com", "userId": 7, "note": null}
	}`)

	env, err := btc.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "del_1", env.EventID)
	assert.Equal(t, "inv_123", env.ResourceID)
	assert.Equal(t, "store_1", env.StoreID)
	assert.Equal(t, int64(1700000000), env.Timestamp)
	assert.Equal(t, "a@x.com", env.Email)
	assert.Equal(t, "ord_9", env.OrderID())
	assert.Equal(t, "7", env.Metadata["userId"])
	assert.Equal(t, "true", env.Metadata["overPaid"])
	assert.NotContains(t, env.Metadata, "note")
	assert.NotContains(t, env.Metadata, "afterExpiration")
	assert.True(t, env.NeedsRefetch)
	assert.Nil(t, env.Amount)
}

func TestBTCPayDecode_FallbackEventID(t *testing.T) {
	btc, _, _ := testProviders(t)

	env, err := btc.Decode([]byte(`{"type":"InvoiceExpired","invoiceId":"inv_123"}`))
	require.NoError(t, err)
	assert.Equal(t, "inv_123:InvoiceExpired", env.EventID)
	assert.False(t, env.NeedsRefetch)
}

func TestDecode_Errors(t *testing.T) {
	btc, whop, stripe := testProviders(t)

	tests := []struct {
		name string
		p    Provider
		body string
	}{
		{"btcpay malformed", btc, `{"type":`},
		{"btcpay missing type", btc, `{"invoiceId":"inv_1"}`},
		{"btcpay missing invoice", btc, `{"type":"InvoicePaymentSettled"}`},
		{"whop malformed", whop, `not json`},
		{"whop missing type", whop, `{"data":{"id":"pay_1"}}`},
		{"whop missing data id", whop, `{"type":"payment_succeeded","data":{}}`},
		{"stripe malformed", stripe, `[`},
		{"stripe missing type", stripe, `{"id":"evt_1","data":{"object":{"id":"pi_1"}}}`},
		{"stripe missing object", stripe, `{"id":"evt_1","type":"payment_intent.succeeded"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := tt.p.Decode([]byte(tt.body))
			assert.Nil(t, env)
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.p.Tag(), de.Provider)
		})
	}
}

func TestWhopDecode(t *testing.T) {
	_, whop, _ := testProviders(t)

	body := []byte(`{
		"id": "evt_w1",
		"type": "payment_succeeded",
		"created_at": "2024-05-01T12:00:00Z",
		"data": {
			"id": "pay_1",
			"membership_id": "mem_1",
			"user_id": "user_abc",
			"username": "alice",
			"email": "a@x.com",
			"product_id": "p1",
			"plan_id": "plan_1",
			"amount": 9900,
			"currency": "usd",
			"status": "paid",
			"metadata": {"tier": "pro"}
		}
	}`)

	env, err := whop.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "evt_w1", env.EventID)
	assert.Equal(t, "mem_1", env.ResourceID)
	assert.Equal(t, "user_abc", env.UserID)
	assert.Equal(t, "alice", env.Username)
	assert.Equal(t, "p1", env.ProductID)
	assert.Equal(t, "USD", env.Currency)
	require.NotNil(t, env.Amount)
	assert.Equal(t, int64(9900), *env.Amount)
	assert.Equal(t, int64(1714564800), env.Timestamp)
	assert.Equal(t, "pro", env.Metadata["tier"])
	assert.Equal(t, "pay_1", env.Metadata["whop_object_id"])
	assert.Equal(t, "plan_1", env.Metadata["plan_id"])
	assert.False(t, env.NeedsRefetch)
}

func TestWhopDecode_FractionalAmountAndUnixTime(t *testing.T) {
	_, whop, _ := testProviders(t)

	env, err := whop.Decode([]byte(`{"type":"payment_succeeded","created_at":1700000000,
		"data":{"id":"pay_1","amount":99.5,"cancel_at_period_end":true}}`))
	require.NoError(t, err)
	assert.Nil(t, env.Amount)
	assert.Equal(t, "99.5", env.Metadata["amount_raw"])
	assert.Equal(t, "pay_1", env.ResourceID)
	assert.Equal(t, "pay_1:payment_succeeded", env.EventID)
	assert.Equal(t, int64(1700000000), env.Timestamp)
	assert.Equal(t, "true", env.Metadata["cancel_at_period_end"])
}

func TestStripeDecode_CheckoutSession(t *testing.T) {
	_, _, stripe := testProviders(t)

	body := []byte(`{
		"id": "evt_s1",
		"object": "event",
		"type": "checkout.session.completed",
		"created": 1700000000,
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"payment_intent": "pi_1",
			"payment_status": "paid",
			"amount_total": 1500,
			"currency": "eur",
			"customer_details": {"email": "b@x.com"},
			"metadata": {"userId": "42", "tier": "pro"}
		}}
	}`)

	env, err := stripe.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "evt_s1", env.EventID)
	assert.Equal(t, "pi_1", env.ResourceID)
	assert.Equal(t, "b@x.com", env.Email)
	assert.Equal(t, "EUR", env.Currency)
	require.NotNil(t, env.Amount)
	assert.Equal(t, int64(1500), *env.Amount)
	assert.Equal(t, "42", env.Metadata["userId"])
	assert.Equal(t, "cs_test_1", env.Metadata["stripe_object_id"])
	assert.False(t, env.NeedsRefetch)
	assert.Equal(t, PaymentSettled, stripe.Classify(env))
}

func TestStripeDecode_UnpaidSessionNeedsRefetch(t *testing.T) {
	_, _, stripe := testProviders(t)

	env, err := stripe.Decode([]byte(`{"id":"evt_s2","type":"checkout.session.completed","data":{"object":{
		"id":"cs_test_2","object":"checkout.session","payment_intent":null,"payment_status":"unpaid"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "cs_test_2", env.ResourceID)
	assert.True(t, env.NeedsRefetch)
}

func TestStripeDecode_PaymentIntentAndExpandedReference(t *testing.T) {
	_, _, stripe := testProviders(t)

	env, err := stripe.Decode([]byte(`{"id":"evt_s3","type":"payment_intent.succeeded","data":{"object":{
		"id":"pi_9","object":"payment_intent","amount":700,"currency":"usd","receipt_email":"c@x.com"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "pi_9", env.ResourceID)
	assert.Equal(t, "c@x.com", env.Email)
	assert.Equal(t, int64(700), *env.Amount)

	env, err = stripe.Decode([]byte(`{"id":"evt_s4","type":"charge.refunded","data":{"object":{
		"id":"ch_1","object":"charge","payment_intent":{"id":"pi_9","object":"payment_intent"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, "pi_9", env.ResourceID)
	assert.Equal(t, Refund, stripe.Classify(env))
}

func TestClassify_Table(t *testing.T) {
	tests := []struct {
		provider  types.ProviderTag
		eventType string
		expected  Outcome
	}{
		{types.ProviderBTCPay, "InvoicePaymentSettled", PaymentSettled},
		{types.ProviderBTCPay, "InvoiceProcessing", PaymentSettled},
		{types.ProviderBTCPay, "InvoiceReceivedPayment", PaymentPendingOrReceived},
		{types.ProviderBTCPay, "InvoiceExpired", InvoiceExpired},
		{types.ProviderBTCPay, "InvoiceInvalid", InvoiceInvalid},
		{types.ProviderBTCPay, "InvoiceCreated", Unrecognized},
		{types.ProviderBTCPay, "InvoiceSettled", Unrecognized},

		{types.ProviderWhop, "payment_succeeded", PaymentSettled},
		{types.ProviderWhop, "payment_pending", PaymentPendingOrReceived},
		{types.ProviderWhop, "payment_failed", PaymentFailed},
		{types.ProviderWhop, "membership_went_valid", MembershipActivated},
		{types.ProviderWhop, "membership_went_invalid", MembershipDeactivated},
		{types.ProviderWhop, "membership_cancel_at_period_end_changed", MembershipCancellationChanged},
		{types.ProviderWhop, "dispute_created", Dispute},
		{types.ProviderWhop, "dispute_updated", Dispute},
		{types.ProviderWhop, "dispute_alert_created", Dispute},
		{types.ProviderWhop, "refund_created", Refund},
		{types.ProviderWhop, "refund_updated", Refund},
		{types.ProviderWhop, "resolution_created", Unrecognized},
		{types.ProviderWhop, "affiliate_reward_created", Unrecognized},

		{types.ProviderStripe, "checkout.session.completed", PaymentSettled},
		{types.ProviderStripe, "payment_intent.succeeded", PaymentSettled},
		{types.ProviderStripe, "payment_intent.processing", PaymentPendingOrReceived},
		{types.ProviderStripe, "payment_intent.payment_failed", PaymentFailed},
		{types.ProviderStripe, "checkout.session.expired", InvoiceExpired},
		{types.ProviderStripe, "charge.dispute.created", Dispute},
		{types.ProviderStripe, "charge.refunded", Refund},
		{types.ProviderStripe, "customer.created", Unrecognized},

		{types.ProviderTag("paypal"), "payment_succeeded", Unrecognized},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider)+"/"+tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.provider, tt.eventType))
		})
	}
}
