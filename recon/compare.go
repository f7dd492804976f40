/*
compare.go - Total order over match-quality judgments

PURPOSE:
  Decides whether a new candidate should displace an existing assignment.
  Used single-shot by callers of the matcher and repeatedly by the cascade
  engine, so it must be total, deterministic, and stable: equal quality
  always resolves to "keep existing" - nothing churns when nothing has
  actually improved.

TIE-BREAK LADDER (each criterion decisive only if the previous is tied):
  1. Confidence tier rank - the dominant rule; a LOW match never displaces
     a HIGH one regardless of every other factor
  2. Tax-id correspondence present vs. absent
  3. Smaller date distance
  4. Exact amount vs. tolerance-window match
  5. Candidate has a further downstream link vs. not
  6. Otherwise keep existing
*/
package recon

// Winner names the outcome of a comparison.
type Winner string

const (
	KeepExisting  Winner = "existing"
	TakeCandidate Winner = "candidate"
)

// IsBetter reports whether candidate should displace existing.
func IsBetter(existing, candidate MatchQuality) bool {
	return Compare(existing, candidate) == TakeCandidate
}

// Compare applies the tie-break ladder.
func Compare(existing, candidate MatchQuality) Winner {
	if candidate.Confidence.Rank() != existing.Confidence.Rank() {
		if candidate.Confidence.Rank() > existing.Confidence.Rank() {
			return TakeCandidate
		}
		return KeepExisting
	}

	if candidate.TaxIDMatch != existing.TaxIDMatch {
		if candidate.TaxIDMatch {
			return TakeCandidate
		}
		return KeepExisting
	}

	if candidate.DateDistanceDays != existing.DateDistanceDays {
		if candidate.DateDistanceDays < existing.DateDistanceDays {
			return TakeCandidate
		}
		return KeepExisting
	}

	if candidate.ExactAmount != existing.ExactAmount {
		if candidate.ExactAmount {
			return TakeCandidate
		}
		return KeepExisting
	}

	if candidate.HasDownstreamLink != existing.HasDownstreamLink {
		if candidate.HasDownstreamLink {
			return TakeCandidate
		}
		return KeepExisting
	}

	return KeepExisting
}
