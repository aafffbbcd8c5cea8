// Package pipeline turns clients, vehicles and bookings into the tensors the rankers consume.
//
// Fit runs once over a full dataset and returns an immutable State holding the
// id encoders, the numeric scaler, the frozen feature schema and the history
// length. Every later step (building training examples, featurizing vehicles at
// serving time, reconstructing client histories) takes that State explicitly.
package pipeline
