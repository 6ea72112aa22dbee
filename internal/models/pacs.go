package models

import "time"

// PACSNode identifies the remote PACS
type PACSNode struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	AETitle string `json:"ae_title"`
}

// ConnectionStatus represents the status of a PACS connection
type ConnectionStatus struct {
	Node         PACSNode  `json:"node"`
	IsConnected  bool      `json:"is_connected"`
	LastChecked  time.Time `json:"last_checked"`
	ResponseTime int64     `json:"response_time_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
}
