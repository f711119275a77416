// Package triage implements the offline symptom-triage state machine used when
// the remote advisor cannot answer.
package triage

import "strings"

// Phase is the current node of the triage conversation.
type Phase string

const (
	PhaseGreeting     Phase = "GREETING"
	PhaseSymptomCheck Phase = "SYMPTOM_CHECK"
	PhaseDetails      Phase = "DETAILS"
	PhaseAdvice       Phase = "ADVICE"
	PhaseClosing      Phase = "CLOSING"
)

// Symptom is the symptom slot filled during SYMPTOM_CHECK.
type Symptom string

const (
	SymptomNone     Symptom = "NONE"
	SymptomFever    Symptom = "FEVER"
	SymptomHeadache Symptom = "HEADACHE"
	SymptomPain     Symptom = "PAIN"
	SymptomCold     Symptom = "COLD"
)

// State is the engine's working memory for one consultation.
type State struct {
	Phase   Phase   `json:"phase"`
	Symptom Symptom `json:"symptom"`
}

// InitialState is the state every consultation starts from.
func InitialState() State {
	return State{Phase: PhaseGreeting, Symptom: SymptomNone}
}

// Result is the outcome of one transition.
type Result struct {
	Next        State
	ResponseKey ResponseKey
}

type keywordRule struct {
	keywords []string
	symptom  Symptom
	key      ResponseKey
}

var (
	greetingWords = []string{"hi", "hello", "namaste"}

	// Row order is precedence.
	symptomRules = []keywordRule{
		{keywords: []string{"fever", "hot", "temperature"}, symptom: SymptomFever, key: KeyAskTemp},
		{keywords: []string{"headache", "head"}, symptom: SymptomHeadache, key: KeyAskDuration},
		{keywords: []string{"stomach", "pain", "ache"}, symptom: SymptomPain, key: KeyAskLocation},
		{keywords: []string{"cough", "cold", "sneeze"}, symptom: SymptomCold, key: KeyAskBreathing},
	}

	feverConfirmWords     = []string{"high", "yes", "more"}
	breathingTroubleWords = []string{"yes", "hard", "trouble"}
	closingWords          = []string{"thank", "ok", "bye"}
)

// Transition maps an utterance and the current state to the next state and a
// canned response key. It has no side effects.
func Transition(utterance string, current State) Result {
	text := strings.ToLower(utterance)
	symptom := current.Symptom
	if symptom == "" {
		symptom = SymptomNone
	}

	switch current.Phase {
	case PhaseGreeting:
		if containsAny(text, greetingWords) {
			return Result{Next: State{Phase: PhaseSymptomCheck, Symptom: symptom}, ResponseKey: KeyGreetingReply}
		}
		return symptomCheck(text, SymptomNone)

	case PhaseSymptomCheck:
		return symptomCheck(text, symptom)

	case PhaseDetails:
		return details(text, symptom)

	case PhaseAdvice, PhaseClosing:
		if containsAny(text, closingWords) {
			return Result{Next: State{Phase: PhaseClosing, Symptom: symptom}, ResponseKey: KeyClosing}
		}
		return Result{Next: State{Phase: PhaseSymptomCheck, Symptom: symptom}, ResponseKey: KeyAnythingElse}
	}

	return Result{Next: State{Phase: current.Phase, Symptom: symptom}, ResponseKey: KeyDefault}
}

func symptomCheck(text string, symptom Symptom) Result {
	for _, rule := range symptomRules {
		if containsAny(text, rule.keywords) {
			return Result{Next: State{Phase: PhaseDetails, Symptom: rule.symptom}, ResponseKey: rule.key}
		}
	}
	return Result{Next: State{Phase: PhaseSymptomCheck, Symptom: symptom}, ResponseKey: KeyUnclear}
}

func details(text string, symptom Symptom) Result {
	switch symptom {
	case SymptomFever:
		if containsDigit(text) || containsAny(text, feverConfirmWords) {
			return Result{Next: State{Phase: PhaseAdvice, Symptom: symptom}, ResponseKey: KeyAdviceFever}
		}
		return Result{Next: State{Phase: PhaseDetails, Symptom: symptom}, ResponseKey: KeyAskTempAgain}
	case SymptomHeadache:
		return Result{Next: State{Phase: PhaseAdvice, Symptom: symptom}, ResponseKey: KeyAdviceHeadache}
	case SymptomPain:
		return Result{Next: State{Phase: PhaseAdvice, Symptom: symptom}, ResponseKey: KeyAdvicePain}
	case SymptomCold:
		if containsAny(text, breathingTroubleWords) {
			return Result{Next: State{Phase: PhaseClosing, Symptom: symptom}, ResponseKey: KeyEmergencyBreathing}
		}
		return Result{Next: State{Phase: PhaseAdvice, Symptom: symptom}, ResponseKey: KeyAdviceCold}
	}
	// symptom was lost before DETAILS
	return Result{Next: State{Phase: PhaseSymptomCheck, Symptom: SymptomNone}, ResponseKey: KeyUnclear}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func containsDigit(text string) bool {
	return strings.ContainsAny(text, "0123456789")
}
