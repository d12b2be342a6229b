// Package compiler turns a Story into one or more normalized
// TaskPackets. Compile is a pure function of the Story, the Config and
// the Clock reading: given the same three, it always produces packets
// that agree in every field except the freshly generated task-id.
package compiler

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CraigThomasParsons/mason/domain"
)

const (
	criteriaPerTask       = 3
	defaultTimeoutSeconds = 300
	sourceDomain          = "devbacklog"
)

var bulletMarkers = []string{"-", "*", "•", "✓"}

// Config bounds the compiler's decomposition policy. Both fields come
// from the daemon's `decomposition` config section.
type Config struct {
	MaxTasksPerStory   int
	DefaultMaxAttempts int
}

// Clock abstracts the current time so tests can pin TaskPacket.Metadata.CreatedAt.
type Clock func() time.Time

// TaskCompiler compiles Stories into TaskPackets per Config.
type TaskCompiler struct {
	cfg   Config
	clock Clock
}

// New returns a TaskCompiler. A nil clock defaults to time.Now.
func New(cfg Config, clock Clock) *TaskCompiler {
	if clock == nil {
		clock = time.Now
	}
	if cfg.MaxTasksPerStory <= 0 {
		cfg.MaxTasksPerStory = 10
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = 3
	}
	return &TaskCompiler{cfg: cfg, clock: clock}
}

// Compile decomposes story into TaskPackets.
//
// If the parsed acceptance criteria has 3 or fewer entries, it emits
// exactly one packet containing all of them. Otherwise it chunks the
// criteria into consecutive groups of 3 (the final group may be
// shorter), emitting one packet per chunk up to MaxTasksPerStory; any
// remaining chunks are silently dropped. The i-th packet (0-based, i>0)
// has its title suffixed with " (Part <i+1>)".
//
// Parsing never panics: a malformed or empty criteria string yields zero
// criteria and therefore zero packets. Callers must tolerate an empty
// result.
func (c *TaskCompiler) Compile(story domain.Story) []domain.TaskPacket {
	criteria := parseAcceptanceCriteria(story.AcceptanceCriteria)
	if len(criteria) == 0 {
		return nil
	}

	if len(criteria) <= criteriaPerTask {
		return []domain.TaskPacket{c.newPacket(story, criteria, 0)}
	}

	var packets []domain.TaskPacket
	for i := 0; i < len(criteria); i += criteriaPerTask {
		if len(packets) >= c.cfg.MaxTasksPerStory {
			break
		}
		end := i + criteriaPerTask
		if end > len(criteria) {
			end = len(criteria)
		}
		packets = append(packets, c.newPacket(story, criteria[i:end], i/criteriaPerTask))
	}
	return packets
}

func (c *TaskCompiler) newPacket(story domain.Story, criteria []string, index int) domain.TaskPacket {
	title := story.Title
	if index > 0 {
		title = title + " (Part " + strconv.Itoa(index+1) + ")"
	}

	return domain.TaskPacket{
		Identity: domain.TaskIdentity{
			TaskID:  uuid.NewString(),
			StoryID: story.ID,
			EpicID:  story.EpicID,
		},
		Goal: domain.TaskGoal{
			Title:           title,
			Description:     story.Narrative,
			SuccessCriteria: append([]string(nil), criteria...),
		},
		Constraints: domain.TaskConstraints{},
		Inputs:      domain.TaskInputs{},
		Execution: domain.TaskExecution{
			MaxAttempts:    c.cfg.DefaultMaxAttempts,
			CurrentAttempt: 0,
			TimeoutSeconds: defaultTimeoutSeconds,
		},
		ProviderContext: domain.TaskProviderContext{
			ComplexityHint: complexityFor(story.EstPoints),
		},
		Metadata: domain.TaskMetadata{
			CreatedAt:    c.clock().UTC().Format("2006-01-02T15:04:05.000000Z"),
			SourceDomain: sourceDomain,
			Priority:     story.Priority,
			EstPoints:    story.EstPoints,
		},
	}
}

func complexityFor(estPoints *int) domain.ComplexityHint {
	if estPoints == nil {
		return domain.ComplexityMedium
	}
	switch {
	case *estPoints <= 2:
		return domain.ComplexityLow
	case *estPoints <= 5:
		return domain.ComplexityMedium
	default:
		return domain.ComplexityHigh
	}
}

// parseAcceptanceCriteria splits raw on line boundaries, trims
// whitespace, and strips one leading bullet marker or numbered-list
// prefix per line. Empty lines are discarded.
func parseAcceptanceCriteria(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if stripped := stripBullet(line); stripped != line {
			line = stripped
		} else {
			line = stripNumbering(line)
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func stripBullet(line string) string {
	for _, marker := range bulletMarkers {
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(line[len(marker):])
		}
	}
	return line
}

// stripNumbering removes a leading "N." prefix when the dot appears
// within the first three characters of the line, e.g. "3. Do the thing".
func stripNumbering(line string) string {
	if line == "" || line[0] < '0' || line[0] > '9' {
		return line
	}
	head := line
	if len(head) > 3 {
		head = head[:3]
	}
	dot := strings.Index(head, ".")
	if dot < 0 {
		return line
	}
	for _, ch := range head[:dot] {
		if ch < '0' || ch > '9' {
			return line
		}
	}
	return strings.TrimSpace(line[dot+1:])
}

// EnrichForRetry returns a copy of packet with Inputs.RetryGuidance
// replaced by guidance and Execution.CurrentAttempt set to attempt. The
// original packet is left unmodified.
func EnrichForRetry(packet domain.TaskPacket, guidance []string, attempt int) domain.TaskPacket {
	enriched := packet.Clone()
	enriched.Inputs.RetryGuidance = append([]string(nil), guidance...)
	enriched.Execution.CurrentAttempt = attempt
	return enriched
}
