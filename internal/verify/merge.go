package verify

import (
	"strings"

	"certverify/internal/certificate"
	"certverify/internal/chain"
)

// Certificate is the merged, display-ready view of a verified certificate.
type Certificate struct {
	CertificateID     string `json:"certificate_id"`
	StudentName       string `json:"student_name"`
	CourseName        string `json:"course_name"`
	IssueDate         string `json:"issue_date"`
	IssuingUniversity string `json:"issuing_university"`
	UniversityName    string `json:"university_name"`
	UniversityDomain  string `json:"university_domain"`
	IsRevoked         bool   `json:"is_revoked"`
	TransactionHash   string `json:"transaction_hash"`
}

// Merge combines the stored record with the registry record. Non-empty registry fields win;
// issue date and transaction hash always come from the store. onChain may be nil.
func Merge(stored certificate.Record, onChain *chain.Record) Certificate {
	c := Certificate{
		CertificateID:     stored.ID,
		StudentName:       stored.StudentName,
		CourseName:        stored.CourseName,
		IssueDate:         stored.IssueDate,
		IssuingUniversity: stored.UniversityWallet,
		UniversityName:    stored.UniversityName,
		TransactionHash:   stored.TransactionHash,
	}
	if onChain == nil {
		return c
	}
	c.StudentName = prefer(onChain.StudentName, c.StudentName)
	c.CourseName = prefer(onChain.CourseName, c.CourseName)
	c.IssuingUniversity = prefer(onChain.IssuerWallet, c.IssuingUniversity)
	c.UniversityName = prefer(onChain.UniversityName, c.UniversityName)
	c.UniversityDomain = onChain.UniversityDomain
	c.IsRevoked = onChain.Revoked
	return c
}

func prefer(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}

// NormalizeHash prefixes 0x when absent. No other rewriting is done.
func NormalizeHash(h string) string {
	if strings.HasPrefix(h, "0x") {
		return h
	}
	return "0x" + h
}
