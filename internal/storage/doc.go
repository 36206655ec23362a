package storage

// Package storage provides the optional relay audit trail backing the
// /stats command and the scheduled digest.
