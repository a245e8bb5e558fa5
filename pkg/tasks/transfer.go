package tasks

// Transfer process steps. Each variant is registered under "task:<TypeName>".

// PrepareTransfer provisions or resolves the data address before the transfer is requested.
type PrepareTransfer struct {
	ProcessRef
	transferStep
}

func (PrepareTransfer) Name() string { return "transfer.prepare" }

// SendTransferRequest dispatches the transfer request to the provider.
type SendTransferRequest struct {
	ProcessRef
	transferStep
}

func (SendTransferRequest) Name() string { return "transfer.request.send" }

// StartDataflow starts the data flow on the provider side.
type StartDataflow struct {
	ProcessRef
	transferStep
}

func (StartDataflow) Name() string { return "transfer.start" }

// SignalDataflowStarted tells the data plane that the provider started the transfer.
type SignalDataflowStarted struct {
	ProcessRef
	transferStep
}

func (SignalDataflowStarted) Name() string { return "transfer.dataplane.started" }

// SuspendDataFlow suspends an ongoing data flow.
type SuspendDataFlow struct {
	ProcessRef
	transferStep
}

func (SuspendDataFlow) Name() string { return "transfer.suspend" }

// ResumeDataFlow resumes a suspended data flow.
type ResumeDataFlow struct {
	ProcessRef
	transferStep
}

func (ResumeDataFlow) Name() string { return "transfer.resume" }

// TerminateDataFlow terminates the data flow and notifies the counter party.
type TerminateDataFlow struct {
	ProcessRef
	transferStep
}

func (TerminateDataFlow) Name() string { return "transfer.terminate" }

// CompleteDataFlow completes the data flow and notifies the counter party.
type CompleteDataFlow struct {
	ProcessRef
	transferStep
}

func (CompleteDataFlow) Name() string { return "transfer.complete" }

func init() {
	RegisterPayload[PrepareTransfer]("task:PrepareTransfer")
	RegisterPayload[SendTransferRequest]("task:SendTransferRequest")
	RegisterPayload[StartDataflow]("task:StartDataflow")
	RegisterPayload[SignalDataflowStarted]("task:SignalDataflowStarted")
	RegisterPayload[SuspendDataFlow]("task:SuspendDataFlow")
	RegisterPayload[ResumeDataFlow]("task:ResumeDataFlow")
	RegisterPayload[TerminateDataFlow]("task:TerminateDataFlow")
	RegisterPayload[CompleteDataFlow]("task:CompleteDataFlow")
}
