package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-charter-sync/core"
)

type requestStore Store

func (s *requestStore) Create(_ context.Context, in core.CreateRequestInput) (core.Request, error) {
	status := in.Status
	if status == "" {
		status = core.RequestStatusDraft
	}
	if !status.Valid() {
		return core.Request{}, core.BadInputError("unknown request status", map[string]any{"status": string(status)})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := (*Store)(s).now()
	request := core.Request{
		ID:                 uuid.NewString(),
		AgentID:            strings.TrimSpace(in.AgentID),
		TripID:             strings.TrimSpace(in.TripID),
		RFQID:              strings.TrimSpace(in.RFQID),
		Status:             status,
		OperatorsContacted: in.OperatorsContacted,
		QuotesExpected:     in.QuotesExpected,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.requests[request.ID] = request
	return request, nil
}

func (s *requestStore) Get(_ context.Context, id string) (core.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[strings.TrimSpace(id)]
	if !ok {
		return core.Request{}, core.ErrNotFound
	}
	return request, nil
}

func (s *requestStore) FindByTripRef(_ context.Context, tripID string, rfqID string) (core.Request, error) {
	tripID = strings.TrimSpace(tripID)
	rfqID = strings.TrimSpace(rfqID)
	s.mu.Lock()
	defer s.mu.Unlock()
	candidates := make([]core.Request, 0, 1)
	for _, request := range s.requests {
		if (tripID != "" && request.TripID == tripID) || (rfqID != "" && request.RFQID == rfqID) {
			candidates = append(candidates, request)
		}
	}
	if len(candidates) == 0 {
		return core.Request{}, core.ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.After(candidates[j].CreatedAt) })
	return candidates[0], nil
}

func (s *requestStore) RaiseQuotesReceived(_ context.Context, id string, count int) (core.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[strings.TrimSpace(id)]
	if !ok {
		return core.Request{}, core.ErrNotFound
	}
	if count > request.QuotesReceived {
		request.QuotesReceived = count
		request.UpdatedAt = (*Store)(s).now()
		s.requests[request.ID] = request
	}
	return request, nil
}

type quoteStore Store

func (s *quoteStore) Upsert(_ context.Context, in core.UpsertQuoteInput) (core.UpsertQuoteResult, error) {
	if err := in.Validate(); err != nil {
		return core.UpsertQuoteResult{}, core.BadInputError(err.Error(), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := (*Store)(s).now()

	id, exists := s.quoteKeys[in.ExternalQuoteID]
	if !exists {
		request, ok := s.requests[in.RequestID]
		if !ok {
			return core.UpsertQuoteResult{}, core.ErrNotFound
		}
		quote := core.NewQuoteFromInput(uuid.NewString(), in, now)
		s.quotes[quote.ID] = quote
		s.quoteKeys[quote.ExternalQuoteID] = quote.ID
		request.QuotesReceived++
		request.UpdatedAt = now
		s.requests[request.ID] = request
		return core.UpsertQuoteResult{Quote: quote, Created: true}, nil
	}

	existing := s.quotes[id]
	switch core.ClassifyQuoteUpdate(existing, in) {
	case core.QuoteUnchanged:
		return core.UpsertQuoteResult{Quote: existing}, nil
	case core.QuoteStale:
		if eventID := strings.TrimSpace(in.EventID); eventID != "" {
			for _, prior := range s.revisions[existing.ID] {
				if !prior.Applied && prior.EventID == eventID {
					prior := prior
					return core.UpsertQuoteResult{Quote: existing, Revision: &prior}, nil
				}
			}
		}
		revision := core.NewQuoteRevision(existing, in, false, now)
		revision.ID = uuid.NewString()
		s.revisions[existing.ID] = append(s.revisions[existing.ID], revision)
		return core.UpsertQuoteResult{Quote: existing, Revision: &revision}, nil
	default:
		revision := core.NewQuoteRevision(existing, in, true, now)
		revision.ID = uuid.NewString()
		updated := core.ApplyQuoteUpdate(existing, in, now)
		s.quotes[existing.ID] = updated
		s.revisions[existing.ID] = append(s.revisions[existing.ID], revision)
		return core.UpsertQuoteResult{Quote: updated, Revision: &revision}, nil
	}
}

func (s *quoteStore) GetByExternalID(_ context.Context, externalQuoteID string) (core.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.quoteKeys[strings.TrimSpace(externalQuoteID)]
	if !ok {
		return core.Quote{}, core.ErrNotFound
	}
	return s.quotes[id], nil
}

func (s *quoteStore) ListByRequest(_ context.Context, requestID string) ([]core.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.Quote{}
	for _, quote := range s.quotes {
		if quote.RequestID == requestID {
			out = append(out, quote)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalQuoteID < out[j].ExternalQuoteID })
	return out, nil
}

func (s *quoteStore) ListRevisions(_ context.Context, quoteID string) ([]core.QuoteRevision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.QuoteRevision(nil), s.revisions[quoteID]...), nil
}

type operatorStore Store

func (s *operatorStore) Upsert(_ context.Context, in core.UpsertOperatorInput) (core.OperatorProfile, error) {
	externalID := strings.TrimSpace(in.ExternalOperatorID)
	if externalID == "" {
		return core.OperatorProfile{}, core.BadInputError("external operator id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := (*Store)(s).now()
	if id, ok := s.operatorKeys[externalID]; ok {
		profile := s.operators[id]
		changed := false
		if name := strings.TrimSpace(in.CompanyName); name != "" && name != profile.CompanyName {
			profile.CompanyName = name
			changed = true
		}
		if email := strings.TrimSpace(in.ContactEmail); email != "" && email != profile.ContactEmail {
			profile.ContactEmail = email
			changed = true
		}
		if changed {
			profile.UpdatedAt = now
			s.operators[id] = profile
		}
		return profile, nil
	}
	profile := core.OperatorProfile{
		ID:                 uuid.NewString(),
		ExternalOperatorID: externalID,
		CompanyName:        strings.TrimSpace(in.CompanyName),
		ContactEmail:       strings.TrimSpace(in.ContactEmail),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.operators[profile.ID] = profile
	s.operatorKeys[externalID] = profile.ID
	return profile, nil
}

func (s *operatorStore) GetByExternalID(_ context.Context, externalOperatorID string) (core.OperatorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.operatorKeys[strings.TrimSpace(externalOperatorID)]
	if !ok {
		return core.OperatorProfile{}, core.ErrNotFound
	}
	return s.operators[id], nil
}

type conversationStore Store

func conversationKey(requestID string, kind core.ConversationType) string {
	return requestID + "|" + string(kind)
}

func (s *conversationStore) GetOrCreate(_ context.Context, requestID string, kind core.ConversationType) (core.Conversation, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" || !kind.Valid() {
		return core.Conversation{}, core.BadInputError("request id and a valid conversation type are required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := conversationKey(requestID, kind)
	if id, ok := s.convKeys[key]; ok {
		return s.conversations[id], nil
	}
	now := (*Store)(s).now()
	conversation := core.Conversation{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Type:      kind,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conversation.ID] = conversation
	s.convKeys[key] = conversation.ID
	return conversation, nil
}

func (s *conversationStore) Get(_ context.Context, id string) (core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[strings.TrimSpace(id)]
	if !ok {
		return core.Conversation{}, core.ErrNotFound
	}
	return conversation, nil
}

func (s *conversationStore) ListByRequest(_ context.Context, requestID string) ([]core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.Conversation{}
	for _, conversation := range s.conversations {
		if conversation.RequestID == requestID {
			out = append(out, conversation)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func (s *conversationStore) EnsureParticipant(
	_ context.Context,
	conversationID string,
	role core.SenderKind,
	ref string,
) (core.ConversationParticipant, error) {
	ref = strings.TrimSpace(ref)
	if _, ok := core.ParseSenderKind(string(role)); !ok || ref == "" {
		return core.ConversationParticipant{}, core.BadInputError("participant role and ref are required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return core.ConversationParticipant{}, core.ErrNotFound
	}
	for _, participant := range s.participants[conversationID] {
		if participant.Role == role && participant.ParticipantRef == ref {
			return participant, nil
		}
	}
	participant := core.ConversationParticipant{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		ParticipantRef: ref,
		CreatedAt:      (*Store)(s).now(),
	}
	s.participants[conversationID] = append(s.participants[conversationID], participant)
	return participant, nil
}

func (s *conversationStore) ListParticipants(_ context.Context, conversationID string) ([]core.ConversationParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.ConversationParticipant(nil), s.participants[conversationID]...), nil
}

func (s *conversationStore) AppendMessage(_ context.Context, in core.AppendMessageInput) (core.AppendMessageResult, error) {
	if err := in.Validate(); err != nil {
		return core.AppendMessageResult{}, core.BadInputError(err.Error(), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[in.ConversationID]
	if !ok {
		return core.AppendMessageResult{}, core.ErrNotFound
	}
	externalID := strings.TrimSpace(in.ExternalMessageID)
	messages := s.messages[conversation.ID]
	if externalID != "" {
		for _, message := range messages {
			if message.ExternalMessageID == externalID {
				return core.AppendMessageResult{Message: message}, nil
			}
		}
	}

	now := (*Store)(s).now()
	sentAt := in.SentAt.UTC()
	if in.SentAt.IsZero() {
		sentAt = now
	}
	message := core.Message{
		ID:                uuid.NewString(),
		ConversationID:    conversation.ID,
		ExternalMessageID: externalID,
		Sender:            in.Sender,
		Content:           in.Content,
		ContentType:       core.ContentTypeText,
		RichPayload:       cloneMap(in.RichPayload),
		SentAt:            sentAt,
		CreatedAt:         now,
	}
	if len(in.RichPayload) > 0 {
		message.ContentType = core.ContentTypeRich
	}
	if parentRef := strings.TrimSpace(in.ParentExternalMessageID); parentRef != "" {
		for _, candidate := range messages {
			if candidate.ExternalMessageID == parentRef {
				message.ParentMessageID = candidate.ID
				message.ThreadRootID = candidate.ThreadRootID
				if message.ThreadRootID == "" {
					message.ThreadRootID = candidate.ID
				}
				break
			}
		}
	}
	s.messages[conversation.ID] = append(messages, message)

	conversation.MessageCount++
	if conversation.LastMessageAt == nil || !sentAt.Before(*conversation.LastMessageAt) {
		conversation.LastMessageID = message.ID
		conversation.LastMessageAt = &sentAt
	}
	conversation.UpdatedAt = now
	s.conversations[conversation.ID] = conversation

	participants := s.participants[conversation.ID]
	for idx, participant := range participants {
		if participant.Role == in.Sender.Kind() && participant.ParticipantRef == in.Sender.Ref() {
			continue
		}
		participants[idx].UnreadCount++
	}
	return core.AppendMessageResult{Message: message, Created: true}, nil
}

func (s *conversationStore) ListMessages(_ context.Context, conversationID string, limit int) ([]core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]core.Message(nil), s.messages[conversationID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *conversationStore) MarkRead(_ context.Context, conversationID string, role core.SenderKind, ref string, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	participants := s.participants[conversationID]
	for idx, participant := range participants {
		if participant.Role == role && participant.ParticipantRef == strings.TrimSpace(ref) {
			now := (*Store)(s).now()
			participants[idx].UnreadCount = 0
			participants[idx].LastReadMessageID = messageID
			participants[idx].LastReadAt = &now
			return nil
		}
	}
	return core.ErrNotFound
}

type workflowStore Store

func (s *workflowStore) GetState(_ context.Context, requestID string) (core.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[requestID]
	if !ok {
		return core.WorkflowState{}, core.ErrNotFound
	}
	return state, nil
}

func (s *workflowStore) ApplyTransition(_ context.Context, record core.TransitionRecord) (core.WorkflowHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[record.RequestID]
	if !ok {
		return core.WorkflowHistory{}, core.ErrNotFound
	}
	if request.Status != record.From {
		return core.WorkflowHistory{}, core.ErrStatusConflict
	}
	at := record.At.UTC()
	if record.At.IsZero() {
		at = (*Store)(s).now()
	}
	enteredAt := request.CreatedAt
	if state, ok := s.states[record.RequestID]; ok {
		enteredAt = state.EnteredAt
	}

	request.Status = record.To
	request.UpdatedAt = at
	s.requests[request.ID] = request
	s.states[request.ID] = core.WorkflowState{
		RequestID:     request.ID,
		CurrentState:  record.To,
		PreviousState: record.From,
		Source:        record.Source,
		AgentID:       record.AgentID,
		EnteredAt:     at,
		UpdatedAt:     at,
	}
	entry := core.WorkflowHistory{
		ID:              uuid.NewString(),
		RequestID:       request.ID,
		FromState:       record.From,
		ToState:         record.To,
		Source:          record.Source,
		AgentID:         record.AgentID,
		EventID:         record.EventID,
		Reason:          record.Reason,
		StateDurationMS: stateDuration(enteredAt, at),
		CreatedAt:       at,
	}
	s.history[request.ID] = append(s.history[request.ID], entry)
	return entry, nil
}

func (s *workflowStore) ListHistory(_ context.Context, requestID string) ([]core.WorkflowHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.WorkflowHistory(nil), s.history[requestID]...), nil
}

func stateDuration(enteredAt time.Time, at time.Time) int64 {
	if enteredAt.IsZero() || at.Before(enteredAt) {
		return 0
	}
	return at.Sub(enteredAt).Milliseconds()
}
