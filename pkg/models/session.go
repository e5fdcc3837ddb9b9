package models

type Session struct {
	ID string `json:"id"`
	// Owner is the user id this session belongs to; ownership is enforced
	// on every turn
	Owner     string `json:"owner"`
	Character string `json:"character"`
	Title     string `json:"title,omitempty"`
	// Mirror is the optional paired session id; turns are copied there
	// best-effort
	Mirror string `json:"mirror,omitempty"`
	// Created / LastActive timestamps (ns); LastActive is touched on every turn
	CreatedTS    int64 `json:"created_ts,omitempty"`
	LastActiveTS int64 `json:"last_active_ts,omitempty"`
	// Paid marks the owner's plan tier for reply shaping
	Paid bool `json:"paid,omitempty"`
}
