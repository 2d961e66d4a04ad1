package natnet

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// QuaternionTolerance is the allowed deviation from unit norm for an
// emitted rotation.
const QuaternionTolerance = 1e-6

var errDegenerateOrientation = errors.New("orientation quaternion has zero or non-finite norm")

// extractPose converts a valid rigid body into a pose, normalizing its
// orientation.
func extractPose(body RigidBody, source, target string, now time.Time) (PoseTransform, error) {
	q := quat.Number{
		Real: float64(body.Orientation[3]),
		Imag: float64(body.Orientation[0]),
		Jmag: float64(body.Orientation[1]),
		Kmag: float64(body.Orientation[2]),
	}
	rot, err := Normalize(q)
	if err != nil {
		return PoseTransform{}, err
	}
	return PoseTransform{
		SourceFrame: source,
		TargetFrame: target,
		BodyID:      body.ID,
		Translation: r3.Vec{
			X: float64(body.Position[0]),
			Y: float64(body.Position[1]),
			Z: float64(body.Position[2]),
		},
		Rotation:  rot,
		MeanError: body.MeanError,
		Stamp:     now,
	}, nil
}

// Normalize scales q to unit length. A zero, NaN or infinite norm cannot be
// normalized and is reported as an error instead of producing NaNs.
func Normalize(q quat.Number) (quat.Number, error) {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return quat.Number{}, errDegenerateOrientation
	}
	return quat.Scale(1/n, q), nil
}

// IsUnit reports whether q has unit norm within QuaternionTolerance.
func IsUnit(q quat.Number) bool {
	return math.Abs(quat.Abs(q)-1) <= QuaternionTolerance
}
