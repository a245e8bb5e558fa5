package tasks

// Contract negotiation steps. Each variant is registered under "task:<TypeName>".

// RequestNegotiation prepares the initial contract request on the consumer side.
type RequestNegotiation struct {
	ProcessRef
	negotiationStep
}

func (RequestNegotiation) Name() string { return "negotiation.request.prepare" }

// SendRequestNegotiation dispatches the contract request to the provider.
type SendRequestNegotiation struct {
	ProcessRef
	negotiationStep
}

func (SendRequestNegotiation) Name() string { return "negotiation.request.send" }

// OfferNegotiation prepares a counter offer on the provider side.
type OfferNegotiation struct {
	ProcessRef
	negotiationStep
}

func (OfferNegotiation) Name() string { return "negotiation.offer.prepare" }

// SendOffer dispatches an offer to the consumer.
type SendOffer struct {
	ProcessRef
	negotiationStep
}

func (SendOffer) Name() string { return "negotiation.offer.send" }

// AcceptNegotiation accepts the current offer.
type AcceptNegotiation struct {
	ProcessRef
	negotiationStep
}

func (AcceptNegotiation) Name() string { return "negotiation.offer.accept" }

// SendAccept dispatches the acceptance to the provider.
type SendAccept struct {
	ProcessRef
	negotiationStep
}

func (SendAccept) Name() string { return "negotiation.offer.accept.send" }

// AgreeNegotiation creates the agreement on the provider side.
type AgreeNegotiation struct {
	ProcessRef
	negotiationStep
}

func (AgreeNegotiation) Name() string { return "negotiation.agreement.agree" }

// SendAgreement dispatches the agreement to the consumer.
type SendAgreement struct {
	ProcessRef
	negotiationStep
}

func (SendAgreement) Name() string { return "negotiation.agreement.send" }

// VerifyNegotiation verifies the agreement on the consumer side.
type VerifyNegotiation struct {
	ProcessRef
	negotiationStep
}

func (VerifyNegotiation) Name() string { return "negotiation.verification.verify" }

// SendVerificationNegotiation dispatches the verification to the provider.
type SendVerificationNegotiation struct {
	ProcessRef
	negotiationStep
}

func (SendVerificationNegotiation) Name() string { return "negotiation.verification.send" }

// FinalizeNegotiation finalizes the negotiation on the provider side.
type FinalizeNegotiation struct {
	ProcessRef
	negotiationStep
}

func (FinalizeNegotiation) Name() string { return "negotiation.finalize.init" }

// SendFinalizeNegotiation dispatches the finalization to the consumer.
type SendFinalizeNegotiation struct {
	ProcessRef
	negotiationStep
}

func (SendFinalizeNegotiation) Name() string { return "negotiation.finalize.send" }

// SendTerminateNegotiation notifies the counter party of a termination.
type SendTerminateNegotiation struct {
	ProcessRef
	negotiationStep
}

func (SendTerminateNegotiation) Name() string { return "negotiation.termination.send" }

func init() {
	RegisterPayload[RequestNegotiation]("task:RequestNegotiation")
	RegisterPayload[SendRequestNegotiation]("task:SendRequestNegotiation")
	RegisterPayload[OfferNegotiation]("task:OfferNegotiation")
	RegisterPayload[SendOffer]("task:SendOffer")
	RegisterPayload[AcceptNegotiation]("task:AcceptNegotiation")
	RegisterPayload[SendAccept]("task:SendAccept")
	RegisterPayload[AgreeNegotiation]("task:AgreeNegotiation")
	RegisterPayload[SendAgreement]("task:SendAgreement")
	RegisterPayload[VerifyNegotiation]("task:VerifyNegotiation")
	RegisterPayload[SendVerificationNegotiation]("task:SendVerificationNegotiation")
	RegisterPayload[FinalizeNegotiation]("task:FinalizeNegotiation")
	RegisterPayload[SendFinalizeNegotiation]("task:SendFinalizeNegotiation")
	RegisterPayload[SendTerminateNegotiation]("task:SendTerminateNegotiation")
}
