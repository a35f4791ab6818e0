// Package phrase detects the fixed magic phrases that steer gating: bypass
// phrases in the agent's output, continue-questions that deserve an
// automatic answer, and no-verify flags in shell commands.
//
// Bypass matching is exact-substring and case-insensitive against a closed
// allowlist. It is deliberately not fuzzy: a looser match would let the
// agent talk its way past gating.
package phrase

import (
	"os"
	"regexp"
	"strings"
)

// The bypass phrases. These exact strings are documented to the agent as the
// only sanctioned ways to end a turn with work still outstanding.
const (
	// ReadyForHumanInputPhrase declares all feasible work done.
	ReadyForHumanInputPhrase = "I have completed all work that I can and require human input to proceed."

	// ProblemDeclaredPhrase declares a problem the agent cannot solve alone.
	ProblemDeclaredPhrase = "I have run into a problem I can't solve without user input."
)

// NoVerifyAcknowledgment must appear in the NO_VERIFY_OK environment
// variable for a --no-verify commit to be allowed through.
const NoVerifyAcknowledgment = "I promise the user has said I can use --no-verify here"

// NoVerifyOKEnvVar is the environment variable carrying the acknowledgment.
const NoVerifyOKEnvVar = "NO_VERIFY_OK"

// BypassIntent classifies a detected bypass phrase.
type BypassIntent int

const (
	// IntentNone means no bypass phrase was found.
	IntentNone BypassIntent = iota

	// IntentReadyForHumanInput means the agent declared its work complete
	// pending human input.
	IntentReadyForHumanInput

	// IntentProblemDeclared means the agent declared an unsolvable problem.
	// The stop is allowed and problem mode is entered.
	IntentProblemDeclared
)

func (b BypassIntent) String() string {
	switch b {
	case IntentReadyForHumanInput:
		return "ready_for_human_input"
	case IntentProblemDeclared:
		return "problem_declared"
	default:
		return "none"
	}
}

// Scan checks the agent's latest output for a bypass phrase.
// The problem phrase wins when both are present: declaring a problem is the
// stronger signal and additionally enters problem mode.
func Scan(latestAgentText string) BypassIntent {
	lower := strings.ToLower(latestAgentText)
	if strings.Contains(lower, strings.ToLower(ProblemDeclaredPhrase)) {
		return IntentProblemDeclared
	}
	if strings.Contains(lower, strings.ToLower(ReadyForHumanInputPhrase)) {
		return IntentReadyForHumanInput
	}
	return IntentNone
}

// noVerifyPatterns match git commit/push invocations carrying --no-verify or
// a -n short flag (possibly folded into a flag cluster like -anm).
var noVerifyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bgit\s+commit\b.*--no-verify\b`),
	regexp.MustCompile(`\bgit\s+commit\b.*\s-[a-zA-Z]*n`),
	regexp.MustCompile(`\bgit\s+push\b.*--no-verify\b`),
}

// NoVerifyResult classifies a command's use of --no-verify.
type NoVerifyResult int

const (
	// NoVerifyAbsent means the command does not bypass verification.
	NoVerifyAbsent NoVerifyResult = iota

	// NoVerifyAcknowledged means the flag is present but sanctioned via the
	// NO_VERIFY_OK acknowledgment.
	NoVerifyAcknowledged

	// NoVerifyBlocked means the flag is present and unsanctioned.
	NoVerifyBlocked
)

// CheckNoVerify classifies a shell command's use of verification-bypass
// flags. The acknowledgment is read from the NO_VERIFY_OK environment
// variable so an operator, not the agent's own tool call, has to grant it.
func CheckNoVerify(command string) NoVerifyResult {
	matched := false
	for _, re := range noVerifyPatterns {
		if re.MatchString(command) {
			matched = true
			break
		}
	}
	if !matched {
		return NoVerifyAbsent
	}

	if strings.Contains(os.Getenv(NoVerifyOKEnvVar), NoVerifyAcknowledgment) {
		return NoVerifyAcknowledged
	}
	return NoVerifyBlocked
}

// continueQuestionPatterns match the agent asking permission to keep going.
// These get a deterministic "Yes, please continue." so an unattended agent
// never stalls waiting for a rubber stamp.
var continueQuestionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwould you like me to continue\b`),
	regexp.MustCompile(`(?i)\bshould i continue\b`),
	regexp.MustCompile(`(?i)\bdo you want me to continue\b`),
	regexp.MustCompile(`(?i)\bshall i continue\b`),
	regexp.MustCompile(`(?i)\bshould i proceed\b`),
	regexp.MustCompile(`(?i)\bdo you want me to proceed\b`),
	regexp.MustCompile(`(?i)\bwould you like me to proceed\b`),
	regexp.MustCompile(`(?i)\bshall i proceed\b`),
	regexp.MustCompile(`(?i)\bdo you want me to keep going\b`),
	regexp.MustCompile(`(?i)\bshould i keep going\b`),
	regexp.MustCompile(`(?i)\bdo you want me to do the rest\b`),
	regexp.MustCompile(`(?i)\bshould i do the rest\b`),
	regexp.MustCompile(`(?i)\bwant me to continue\b`),
	regexp.MustCompile(`(?i)\bwant me to proceed\b`),
}

// questionPatterns match generic blocking questions.
var questionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\?\s*$`),
	regexp.MustCompile(`\?\s*\n`),
	regexp.MustCompile(`(?i)\bwould you like\b`),
	regexp.MustCompile(`(?i)\bdo you want\b`),
	regexp.MustCompile(`(?i)\bshould i\b`),
	regexp.MustCompile(`(?i)\bwhat do you think\b`),
	regexp.MustCompile(`(?i)\blet me know\b`),
	regexp.MustCompile(`(?i)\bplease confirm\b`),
	regexp.MustCompile(`(?i)\bplease clarify\b`),
	regexp.MustCompile(`(?i)\bwhich (?:one|option)\b`),
	regexp.MustCompile(`(?i)\bhow would you like\b`),
	regexp.MustCompile(`(?i)\bwhat would you prefer\b`),
}

// ContinueAnswer is the canned response injected for continue-questions.
const ContinueAnswer = "Yes, please continue."

// IsContinueQuestion reports whether the text asks permission to continue
// working, as opposed to a substantive question that needs a real answer.
func IsContinueQuestion(text string) bool {
	for _, re := range continueQuestionPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// LooksLikeQuestion reports whether the text appears to be a question
// directed at the user.
func LooksLikeQuestion(text string) bool {
	for _, re := range questionPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
