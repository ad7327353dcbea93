package glm

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// scoreDesign computes McFadden-style deviance pseudo-R² on held-out trials. The null model
// predicts the mean training count.
func scoreDesign(d *Design, res *FitResult) (map[int]float64, error) {
	evalTrials := d.test
	if len(evalTrials) == 0 {
		evalTrials = d.train
	}
	xa, rowIdx, err := d.augmented(evalTrials)
	if err != nil {
		return nil, err
	}
	_, trainRows, err := d.augmented(d.train)
	if err != nil {
		return nil, err
	}

	scores := make(map[int]float64, len(res.clusters))
	for _, cluster := range res.clusters {
		yTrain := d.responses(cluster, trainRows)
		mean := floats.Sum(yTrain) / float64(len(yTrain))

		y := d.responses(cluster, rowIdx)
		beta := append([]float64{res.intercepts[cluster]}, res.weights[cluster]...)
		p := newPoissonProblem(xa, y, 0)
		p.predict(beta)
		model := poissonDeviance(y, p.mu)

		null := make([]float64, len(y))
		floats.AddConst(mean, null)
		nullDev := poissonDeviance(y, null)
		if nullDev == 0 {
			scores[cluster] = math.NaN()
			continue
		}
		scores[cluster] = 1 - model/nullDev
	}
	return scores, nil
}
